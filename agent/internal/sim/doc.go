// Package sim is the synthetic compressor behind twin-agent.
//
// Simulator.Next produces one Payload per call: speed and valve jitter by
// ±1 % around the current setpoints, discharge pressure, discharge
// temperature, vibration and bearing temperature rise with speed, and flow
// follows the valve. Vibration carries slow periodic terms driven by the
// step counter.
//
// Apply consumes relayed command events: stop pauses sampling (Next returns
// false), start resumes it, set moves the setpoints. A fixed seed makes the
// sequence reproducible.
package sim
