package nats

import (
	"strings"
)

var subjectReplacer = strings.NewReplacer(
	"+", "*",
	"#", ">",
	"/", ".",
	" ", "_",
)

// ToNATSSubject converts an MQTT-style topic to a NATS subject. Separators
// become dots, + and # become * and >, and spaces are not allowed in a
// subject so they become underscores. Leading and trailing slashes are
// dropped since NATS rejects empty tokens.
func ToNATSSubject(topic string) string {
	return subjectReplacer.Replace(strings.Trim(topic, "/"))
}
