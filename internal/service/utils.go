package service

import (
	"encoding/json"
	"fmt"
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func marshalReasonMetadata(reason string) ([]byte, error) {
	return json.Marshal(map[string]string{"reason": reason})
}
