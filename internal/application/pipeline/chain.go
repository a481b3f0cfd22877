package pipeline

import (
	"path"

	"github.com/gumballmed/scanpipe/internal/domain/jobs"
	"github.com/gumballmed/scanpipe/internal/infra/storage"
)

// IngestChain builds the normalize job for a fresh upload with the analyze
// stage queued behind it. The analyze stage inherits the normalize result as
// its input.
func IngestChain(ownerID, scanID, uploadedRef string) (jobs.Kind, jobs.Payload) {
	return jobs.KindNormalize, jobs.Payload{
		OwnerID:  ownerID,
		ScanID:   scanID,
		InputRef: uploadedRef,
		Next:     []jobs.StageSpec{{Kind: jobs.KindAnalyze}},
	}
}

// AdviceJob builds a standalone advise job over an already analyzed scan.
func AdviceJob(ownerID, scanID, symptoms, audience string) (jobs.Kind, jobs.Payload) {
	return jobs.KindAdvise, jobs.Payload{
		OwnerID:  ownerID,
		ScanID:   scanID,
		InputRef: path.Join(storage.DirAnalysis, scanID+".json"),
		Symptoms: symptoms,
		Audience: audience,
	}
}
