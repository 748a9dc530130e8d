package ingestion

import (
	"fmt"
	"strconv"
	"strings"

	"IFLedger/internal/command"
)

// ParseRawCommand decodes and validates a raw command. When the subject
// carries a pool token it must match the command's pool.
func ParseRawCommand(raw RawCommand) (command.Command, error) {
	ct, err := command.ParseType(raw.CommandType)
	if err != nil {
		return nil, err
	}

	cmd, err := command.Decode(ct, raw.Data)
	if err != nil {
		return nil, err
	}

	if raw.Subject != "" {
		poolID, ok, err := subjectPool(raw.Subject)
		if err != nil {
			return nil, err
		}
		if ok && poolID != cmd.Pool() {
			return nil, fmt.Errorf("subject %s targets pool %d, command pool %d: %w",
				raw.Subject, poolID, cmd.Pool(), command.ErrInvalidCommand)
		}
	}
	return cmd, nil
}

// subjectPool extracts the pool token of "ifledger.commands.<Type>.<pool>".
func subjectPool(subject string) (uint16, bool, error) {
	tokens := strings.Split(subject, ".")
	if len(tokens) < 4 || tokens[0]+"."+tokens[1] != CommandSubject {
		return 0, false, nil
	}
	id, err := strconv.ParseUint(tokens[3], 10, 16)
	if err != nil {
		return 0, false, fmt.Errorf("subject %s: bad pool token: %w", subject, command.ErrInvalidCommand)
	}
	return uint16(id), true, nil
}
