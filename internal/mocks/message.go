package mocks

// MQTTMessage is a canned inbound MQTT message for adapter tests.
type MQTTMessage struct {
	TopicName string
	Body      []byte
}

func (m *MQTTMessage) Duplicate() bool   { return false }
func (m *MQTTMessage) Qos() byte         { return 1 }
func (m *MQTTMessage) Retained() bool    { return false }
func (m *MQTTMessage) Topic() string     { return m.TopicName }
func (m *MQTTMessage) MessageID() uint16 { return 1 }
func (m *MQTTMessage) Payload() []byte   { return m.Body }
func (m *MQTTMessage) Ack()              {}
