// Package backup runs the backup and extract workflows.
//
// Each workflow is an ordered list of steps. The first failing step stops the
// run and is returned as a *StepError. Nothing is retried and nothing is
// rolled back: an aborted backup can leave a created image or a mounted
// filesystem behind, and the error names the step so the operator can clean up.
package backup

import (
	"errors"
	"fmt"

	"github.com/nace/vaultgen/internal/image"
	"github.com/nace/vaultgen/internal/system"
	"github.com/nace/vaultgen/internal/tree"
	"github.com/nace/vaultgen/internal/ui"
	"github.com/spf13/afero"
)

const (
	// OverheadMiB is added to the measured content size for filesystem metadata.
	// Trees with many small files can still outgrow it.
	OverheadMiB = 50

	// DefaultMountPoint is used when a request leaves MountPoint empty
	DefaultMountPoint = "/mnt/virtual_disk"

	// lost+found is created by mkfs and never copied out
	lostAndFound = "lost+found"
)

var (
	ErrMissingSource      = errors.New("source folder is required")
	ErrMissingDestination = errors.New("destination folder is required")
	ErrMissingImage       = errors.New("image path is required")
)

// Step names one transition of a workflow
type Step string

const (
	StepValidate Step = "validate"
	StepScan     Step = "scan"
	StepCreate   Step = "create"
	StepFormat   Step = "format"
	StepMount    Step = "mount"
	StepCopy     Step = "copy"
	StepUnmount  Step = "unmount"
)

// StepError reports which step stopped a workflow and why
type StepError struct {
	Step Step
	Kind system.ErrorKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Report lists the steps a workflow completed
type Report struct {
	Completed []Step
	// SizeBytes is the scanned content size (backup only)
	SizeBytes int64
	// ImageMiB is the size the image was created with (backup only)
	ImageMiB int64
}

// TargetMiB returns the image size in MiB for a tree of sizeBytes
func TargetMiB(sizeBytes int64) int64 {
	return sizeBytes/system.MiB + OverheadMiB
}

// BackupRequest describes one backup run
type BackupRequest struct {
	Source     string
	Image      string
	MountPoint string
}

// Validate checks required fields and fills defaults
func (r *BackupRequest) Validate() error {
	if r.Source == "" {
		return ErrMissingSource
	}
	if r.Image == "" {
		return ErrMissingImage
	}
	if r.MountPoint == "" {
		r.MountPoint = DefaultMountPoint
	}
	return nil
}

// ExtractRequest describes one extract run
type ExtractRequest struct {
	Image       string
	MountPoint  string
	Destination string
}

// Validate checks required fields and fills defaults
func (r *ExtractRequest) Validate() error {
	if r.Destination == "" {
		return ErrMissingDestination
	}
	if r.Image == "" {
		return ErrMissingImage
	}
	if r.MountPoint == "" {
		r.MountPoint = DefaultMountPoint
	}
	return nil
}

// ProgressFactory creates a progress observer for a copy labelled label
type ProgressFactory func(label string) tree.Progress

// Orchestrator composes the size scan, image lifecycle and tree copy
type Orchestrator struct {
	fs       afero.Fs
	tools    image.Tools
	logger   *ui.Logger
	progress ProgressFactory
}

// NewOrchestrator creates an orchestrator. progress may be nil.
func NewOrchestrator(fsys afero.Fs, tools image.Tools, logger *ui.Logger, progress ProgressFactory) *Orchestrator {
	return &Orchestrator{
		fs:       fsys,
		tools:    tools,
		logger:   logger,
		progress: progress,
	}
}

type step struct {
	name Step
	run  func() error
}

// run executes steps in order and stops at the first failure
func (o *Orchestrator) run(report *Report, steps []step) error {
	for _, s := range steps {
		o.logger.Debug("Step %s", s.name)
		if err := s.run(); err != nil {
			kind := system.KindOf(err)
			if kind == system.KindUnknown {
				kind = system.KindIO
			}
			return &StepError{Step: s.name, Kind: kind, Err: err}
		}
		report.Completed = append(report.Completed, s.name)
	}
	return nil
}

func (o *Orchestrator) copier(label string) *tree.Copier {
	var p tree.Progress
	if o.progress != nil {
		p = o.progress(label)
	}
	return tree.NewCopier(o.fs, p)
}

func validationError(err error) error {
	return &StepError{Step: StepValidate, Kind: system.KindUsage, Err: err}
}

// Backup scans req.Source, creates and formats an image sized for it,
// mounts it, copies the tree in and unmounts.
func (o *Orchestrator) Backup(req BackupRequest) (*Report, error) {
	report := &Report{}
	if err := req.Validate(); err != nil {
		return report, validationError(err)
	}

	log := o.logger.Scope("backup")
	var lc *image.Lifecycle

	err := o.run(report, []step{
		{StepScan, func() error {
			log.Info("Calculating the size of %s...", req.Source)
			size, err := tree.Size(o.fs, req.Source)
			if err != nil {
				return err
			}
			report.SizeBytes = size
			report.ImageMiB = TargetMiB(size)
			log.Info("Content is %s, image will be %d MiB", system.FormatSize(uint64(size)), report.ImageMiB)
			return nil
		}},
		{StepCreate, func() error {
			var err error
			lc, err = image.NewLifecycle(o.fs, o.tools, log, req.Image)
			if err != nil {
				return err
			}
			return lc.Create(report.ImageMiB * system.MiB)
		}},
		{StepFormat, func() error { return lc.Format() }},
		{StepMount, func() error { return lc.Mount(req.MountPoint) }},
		{StepCopy, func() error {
			log.Info("Copying contents from %s to %s...", req.Source, req.MountPoint)
			return o.copier("Copying files").Copy(req.Source, req.MountPoint)
		}},
		{StepUnmount, func() error { return lc.Unmount() }},
	})
	if err != nil {
		return report, err
	}

	log.Success("Backup completed to %s", req.Image)
	return report, nil
}

// Extract mounts an existing image and copies its contents into req.Destination
func (o *Orchestrator) Extract(req ExtractRequest) (*Report, error) {
	report := &Report{}
	if err := req.Validate(); err != nil {
		return report, validationError(err)
	}

	log := o.logger.Scope("extract")
	var lc *image.Lifecycle

	err := o.run(report, []step{
		{StepMount, func() error {
			var err error
			lc, err = image.NewLifecycle(o.fs, o.tools, log, req.Image)
			if err != nil {
				return err
			}
			return lc.Mount(req.MountPoint)
		}},
		{StepCopy, func() error {
			log.Info("Extracting contents from %s to %s...", req.MountPoint, req.Destination)
			return o.copier("Extracting files").SkipTopLevel(lostAndFound).Copy(req.MountPoint, req.Destination)
		}},
		{StepUnmount, func() error { return lc.Unmount() }},
	})
	if err != nil {
		return report, err
	}

	log.Success("Extraction completed from %s to %s", req.Image, req.Destination)
	return report, nil
}
