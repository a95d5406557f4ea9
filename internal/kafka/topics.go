package kafka

import (
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/segmentio/kafka-go"
)

// EnsureTopicsExist creates the lifecycle topics if the cluster does
// not have them yet. Best effort: a failure on one topic does not stop
// the others.
func EnsureTopicsExist(brokers []string, topics []string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err = controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			log.Printf("Error creating topic %s: %v", topic, err)
		}
	}
	return nil
}
