package central

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/meowctl/internal/device"
)

// dispatch resolves a feature command and hands the write to the adapter.
// Checks run in order: readiness, feature, characteristic presence, command.
func (m *Manager) dispatch(peripheralID, feature string, on bool) error {
	rec, ok := m.registry.get(peripheralID)
	if !ok {
		return fmt.Errorf("%w: %q is not managed", ErrPeripheralNotReady, peripheralID)
	}
	if rec.state != Ready {
		return fmt.Errorf("%w: %q is %s", ErrPeripheralNotReady, peripheralID, rec.state)
	}

	f, err := m.catalog.Lookup(feature)
	if err != nil {
		return err
	}

	char, ok := rec.characteristics.Get(f.UUID)
	if !ok {
		return fmt.Errorf("%w: %w", ErrCharacteristicNotFound,
			&device.NotFoundError{Resource: "characteristic", UUIDs: []string{peripheralID, f.UUID}})
	}

	cmd, err := f.Command(on)
	if err != nil {
		return err
	}

	fields := logrus.Fields{
		"peripheral":     peripheralID,
		"feature":        f.Name,
		"characteristic": char.UUID,
		"command":        string(cmd),
	}
	if err := m.adapter.Write(peripheralID, char.UUID, cmd.Payload()); err != nil {
		err = wrapAs(ErrWriteRejected, err)
		m.logger.WithFields(fields).WithError(err).Warn("Write rejected")
		return err
	}

	m.logger.WithFields(fields).Debug("Command dispatched")
	return nil
}
