// Package twin defines the types shared by twin-server and twin-agent: the
// compressor snapshot (gas, oper, health), the derived KPI block, the
// composite view pushed to subscribers, the sparse Update applied by
// ingestion, and the command/ack messages exchanged with operators.
//
// JSON field names match the payloads producers already send
// (T1, P2, vib_axial, lube_oil_pressure, ...).
package twin
