package ble

import (
	"fmt"
	"log/slog"
)

// LogServices enumerates conn's GATT table and logs every service and
// characteristic at debug level.
func LogServices(conn Connection, log *slog.Logger) error {
	svcs, err := conn.Services()
	if err != nil {
		return fmt.Errorf("ble: list services: %w", err)
	}
	for _, svc := range svcs {
		log.Debug("[BLE] service", "uuid", svc.UUID, "characteristics", len(svc.Characteristics))
		for _, ch := range svc.Characteristics {
			if ch.ReadErr != nil {
				log.Debug("[BLE] characteristic", "service", svc.UUID, "uuid", ch.UUID, "read_error", ch.ReadErr)
				continue
			}
			log.Debug("[BLE] characteristic", "service", svc.UUID, "uuid", ch.UUID, "value", fmt.Sprintf("%x", ch.Value))
		}
	}
	return nil
}
