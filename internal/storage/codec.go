package storage

import (
	"encoding/json"
	"errors"

	"genecad/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp sets the current schema and codec versions on a record.
func Stamp(run *model.CompileRun) {
	run.SchemaVersion = CurrentSchemaVersion
	run.CodecVersion = CurrentCodecVersion
}

func EncodeRun(run model.CompileRun) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.CompileRun, error) {
	var run model.CompileRun
	if err := json.Unmarshal(data, &run); err != nil {
		return model.CompileRun{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.CompileRun{}, err
	}
	return run, nil
}

func EncodeScoreHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeScoreHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
