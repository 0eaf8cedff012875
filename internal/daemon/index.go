package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/3leaps/srcindex/pkg/indexer"
)

// IndexRequest asks for one translation unit to be (re)indexed.
type IndexRequest struct {
	Project   string   `json:"project"`
	Directory string   `json:"directory"`
	Command   []string `json:"command"`
	Type      string   `json:"type,omitempty"`

	// Destination and Port hand the job to a remote peer when Port is set.
	Destination string `json:"destination,omitempty"`
	Port        uint16 `json:"port,omitempty"`
}

// DefaultIndexType is used when a request names no type.
const DefaultIndexType = indexer.IndexDirty

func (r IndexRequest) indexType() (indexer.IndexType, error) {
	name := strings.TrimSpace(strings.ToLower(r.Type))
	if name == "" {
		return DefaultIndexType, nil
	}
	t, ok := indexer.ParseIndexType(name)
	if !ok {
		return indexer.IndexInvalid, fmt.Errorf("%w: unknown index type %q", ErrInvalidRequest, r.Type)
	}
	return t, nil
}

// Index opens the request's project, resolves its command line and queues a
// job. Requests for a file that already has a job are coalesced by the
// scheduler; the returned JobInfo describes whichever job carries the work.
func (d *Daemon) Index(ctx context.Context, req IndexRequest) (indexer.JobInfo, error) {
	t, err := req.indexType()
	if err != nil {
		return indexer.JobInfo{}, err
	}
	if req.Port != 0 && strings.TrimSpace(req.Destination) == "" {
		return indexer.JobInfo{}, fmt.Errorf("%w: remote jobs need a destination", ErrInvalidRequest)
	}

	p, err := d.OpenProject(ctx, req.Project)
	if err != nil {
		return indexer.JobInfo{}, err
	}

	src, err := d.projects.Files().Resolve(req.Command, req.Directory)
	if err != nil {
		return indexer.JobInfo{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	var info indexer.JobInfo
	err = d.call(ctx, func() {
		var job *indexer.Job
		if req.Port != 0 {
			job = indexer.NewJob(d.env, t, p.Path(), src)
			job.SetRemote(req.Destination, req.Port)
			d.scheduler.Submit(job)
		} else {
			job = d.scheduler.Index(t, p.Path(), src)
		}
		info = d.scheduler.Describe(job)
	})
	return info, err
}

// fanout forwards scheduler events to several recorders in order.
type fanout []indexer.Recorder

func (f fanout) Record(ev indexer.Event) {
	for _, r := range f {
		r.Record(ev)
	}
}

// resultDelivery turns a clean local worker exit into a successful result
// for the owning project. Crashes are delivered by the dispatcher.
type resultDelivery struct {
	d *Daemon
}

func (r *resultDelivery) Record(ev indexer.Event) {
	if ev.Kind != indexer.EventFinished || ev.ExitCode != 0 {
		return
	}
	sink := r.d.projects.Project(ev.Project)
	if sink == nil || sink.State() != indexer.ProjectLoaded {
		return
	}
	id, ok := r.d.projects.Files().Lookup(ev.File)
	if !ok {
		return
	}
	sink.OnJobFinished(&indexer.IndexData{
		Type:       ev.Type,
		FileID:     id,
		JobID:      ev.JobID,
		FinishedAt: ev.At,
	})
}
