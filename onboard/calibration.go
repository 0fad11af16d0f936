package onboard

import (
	"time"

	"github.com/asdine/storm/v3"
)

// ZeroOffset is the persisted calibration record for one actuator. The
// offset survives restarts so a zeroed joint stays zeroed.
type ZeroOffset struct {
	ActuatorID int `storm:"id"`
	Offset     float64
	Updated    time.Time
}

type CalibrationStore struct {
	db *storm.DB
}

func NewCalibrationStore(db *storm.DB) (store *CalibrationStore, err error) {
	if err = db.Init(&ZeroOffset{}); err != nil {
		return
	}
	return &CalibrationStore{db: db}, nil
}

// Offset returns the saved offset, or zero for an actuator that was never
// calibrated.
func (s *CalibrationStore) Offset(id int) (float64, error) {
	var zo ZeroOffset
	err := s.db.One("ActuatorID", id, &zo)
	if err == storm.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return zo.Offset, nil
}

func (s *CalibrationStore) SetOffset(id int, offset float64) error {
	return s.db.Save(&ZeroOffset{
		ActuatorID: id,
		Offset:     offset,
		Updated:    time.Now(),
	})
}

func (s *CalibrationStore) All() (offsets []ZeroOffset, err error) {
	err = s.db.All(&offsets)
	return
}
