// Package pipeline holds the staged processing that turns an uploaded scan
// into findings and written advice: normalize re-encodes the raw upload,
// analyze runs the pathology model, advise asks the language model for a
// write-up. Stages run as queued jobs and chain through the broker.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"log"
	"path"

	"github.com/gumballmed/scanpipe/internal/domain/ai"
	"github.com/gumballmed/scanpipe/internal/domain/jobs"
	"github.com/gumballmed/scanpipe/internal/domain/scans"
	"github.com/gumballmed/scanpipe/internal/infra/storage"
)

// Archiver mirrors a finished artifact to longer-term storage. Optional.
type Archiver interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

type Handlers struct {
	store    *storage.Store
	scans    scans.Repository
	analyzer ai.Analyzer
	advisor  ai.Advisor
	archive  Archiver
}

func NewHandlers(store *storage.Store, repo scans.Repository, analyzer ai.Analyzer, advisor ai.Advisor, archive Archiver) *Handlers {
	return &Handlers{store: store, scans: repo, analyzer: analyzer, advisor: advisor, archive: archive}
}

// Register wires every stage into the registry.
func (h *Handlers) Register(reg *jobs.Registry) error {
	if err := reg.Register(jobs.KindNormalize, jobs.HandlerFunc(h.Normalize)); err != nil {
		return err
	}
	if err := reg.Register(jobs.KindAnalyze, jobs.HandlerFunc(h.Analyze)); err != nil {
		return err
	}
	return reg.Register(jobs.KindAdvise, jobs.HandlerFunc(h.Advise))
}

// Normalize decodes the raw upload, re-encodes it as a grayscale JPEG under
// the deterministic name normalized/<scan>.jpg, and removes the raw file.
// Re-running the stage overwrites the same output.
func (h *Handlers) Normalize(ctx context.Context, p jobs.Payload) (string, error) {
	if err := h.advance(ctx, scans.ScanID(p.ScanID), scans.StatusNormalizing); err != nil {
		return "", err
	}
	dirs, err := storage.ForOwner(h.store, p.OwnerID)
	if err != nil {
		return "", err
	}

	raw, err := dirs.Root.ReadFile(p.InputRef)
	if err != nil {
		return "", fmt.Errorf("reading upload %s: %w", p.InputRef, err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decoding upload %s: %w", p.InputRef, err)
	}

	gray := image.NewGray(img.Bounds())
	draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gray, &jpeg.Options{Quality: 90}); err != nil {
		return "", fmt.Errorf("encoding normalized image: %w", err)
	}

	ref := path.Join(storage.DirNormalized, p.ScanID+".jpg")
	if _, err := dirs.Root.Save(ref, &buf); err != nil {
		return "", fmt.Errorf("writing normalized image: %w", err)
	}

	// The raw upload is no longer needed once the normalized copy exists.
	if err := dirs.Root.Delete(p.InputRef); err != nil {
		log.Printf("warn: could not remove upload %s: %v", p.InputRef, err)
	}

	if err := h.advance(ctx, scans.ScanID(p.ScanID), scans.StatusNormalized); err != nil {
		return "", err
	}
	return ref, nil
}

// Analyze feeds the normalized image to the model service and stores the
// findings as analysis/<scan>.json. The write is exclusive: a second analyze
// job for the same scan fails instead of clobbering the first result.
func (h *Handlers) Analyze(ctx context.Context, p jobs.Payload) (string, error) {
	if err := h.advance(ctx, scans.ScanID(p.ScanID), scans.StatusAnalyzing); err != nil {
		return "", err
	}
	dirs, err := storage.ForOwner(h.store, p.OwnerID)
	if err != nil {
		return "", err
	}

	img, err := dirs.Root.ReadFile(p.InputRef)
	if err != nil {
		return "", fmt.Errorf("reading normalized image %s: %w", p.InputRef, err)
	}

	findings, err := h.analyzer.Analyze(ctx, img)
	if err != nil {
		return "", fmt.Errorf("analyzing scan %s: %w", p.ScanID, err)
	}

	data, err := json.Marshal(findings)
	if err != nil {
		return "", fmt.Errorf("encoding findings: %w", err)
	}

	ref := path.Join(storage.DirAnalysis, p.ScanID+".json")
	f, err := dirs.Root.CreateExclusive(ref)
	if err != nil {
		return "", fmt.Errorf("writing findings for scan %s: %w", p.ScanID, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("writing findings for scan %s: %w", p.ScanID, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("writing findings for scan %s: %w", p.ScanID, err)
	}

	if err := h.advance(ctx, scans.ScanID(p.ScanID), scans.StatusAnalyzed); err != nil {
		return "", err
	}

	if h.archive != nil {
		h.mirror(ctx, dirs, p, ref)
	}
	return ref, nil
}

// mirror is best effort; a dead archive never fails the job.
func (h *Handlers) mirror(ctx context.Context, dirs *storage.OwnerDirs, p jobs.Payload, ref string) {
	local, err := dirs.Root.Resolve(ref)
	if err != nil {
		log.Printf("warn: archive skip for scan %s: %v", p.ScanID, err)
		return
	}
	key := path.Join("user_"+p.OwnerID, ref)
	if _, err := h.archive.Upload(ctx, local, key); err != nil {
		log.Printf("warn: archive upload failed for scan %s: %v", p.ScanID, err)
	}
}

// Advise reads the stored findings and asks the language model for advice in
// the requested register. Output goes under advice/ with a random name so
// repeated requests for the same scan each keep their own write-up.
func (h *Handlers) Advise(ctx context.Context, p jobs.Payload) (string, error) {
	dirs, err := storage.ForOwner(h.store, p.OwnerID)
	if err != nil {
		return "", err
	}

	data, err := dirs.Root.ReadFile(p.InputRef)
	if err != nil {
		return "", fmt.Errorf("reading findings %s: %w", p.InputRef, err)
	}
	var findings ai.Findings
	if err := json.Unmarshal(data, &findings); err != nil {
		return "", fmt.Errorf("decoding findings %s: %w", p.InputRef, err)
	}

	text, err := h.advisor.Advise(ctx, &findings, p.Symptoms, p.Audience)
	if err != nil {
		return "", fmt.Errorf("advising on scan %s: %w", p.ScanID, err)
	}

	name, err := dirs.Advice.AllocateUniqueName(".txt")
	if err != nil {
		return "", err
	}
	ref := path.Join(storage.DirAdvice, name)
	f, err := dirs.Root.CreateExclusive(ref)
	if err != nil {
		return "", fmt.Errorf("writing advice for scan %s: %w", p.ScanID, err)
	}
	if _, err := f.Write([]byte(text)); err != nil {
		f.Close()
		return "", fmt.Errorf("writing advice for scan %s: %w", p.ScanID, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("writing advice for scan %s: %w", p.ScanID, err)
	}
	return ref, nil
}

// advance moves the scan to target after checking the transition is legal.
func (h *Handlers) advance(ctx context.Context, id scans.ScanID, target scans.Status) error {
	sc, err := h.scans.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := sc.Status.ValidateTransition(target); err != nil {
		return err
	}
	return h.scans.UpdateStatus(ctx, id, target)
}
