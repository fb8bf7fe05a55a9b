package twin

import "strings"

// MQTT topic layout shared by the server and producers.
const (
	telemetrySuffix = "telemetry"
	commandSuffix   = "command"
)

// TelemetryTopic is the wildcard subscription covering every producer.
func TelemetryTopic(prefix string) string {
	return prefix + "/+/" + telemetrySuffix
}

// MachineTelemetryTopic is the topic one producer publishes on.
func MachineTelemetryTopic(prefix, machine string) string {
	return prefix + "/" + machine + "/" + telemetrySuffix
}

// CommandTopic carries relayed operator commands to producers.
func CommandTopic(prefix string) string {
	return prefix + "/" + commandSuffix
}

// MachineFromTopic extracts the machine ID from "<prefix>/<id>/telemetry".
func MachineFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	machine, ok := strings.CutSuffix(rest, "/"+telemetrySuffix)
	if !ok || machine == "" || strings.Contains(machine, "/") {
		return "", false
	}
	return machine, true
}
