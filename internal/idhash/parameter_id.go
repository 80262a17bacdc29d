package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"

	"backtest-lab/internal/domain"
)

// ComputeParameterID computes a deterministic parameter_id using SHA256.
// Formula: SHA256(bot|canonical parameter key)
// Returns base58-encoded hash.
func ComputeParameterID(bot string, params domain.ParameterSet) string {
	data := fmt.Sprintf("%s|%s", bot, params.Key())
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// ComputeJournalName returns the storage name of a journal: the job ID
// as directory and the parameter ID as file stem.
func ComputeJournalName(jobID, parameterID string) string {
	if jobID == "" {
		return parameterID
	}
	return jobID + "/" + parameterID
}
