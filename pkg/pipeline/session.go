package pipeline

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/internal/types"
	"github.com/xhad/reachout/pkg/index"
	"github.com/xhad/reachout/pkg/profile"
)

// Session is one job and resume pair together with its indexes and draft.
type Session struct {
	ID          string
	Job         models.Document
	Resume      models.Document
	JobIndex    *index.Index
	ResumeIndex *index.Index
	Email       models.GeneratedEmail
}

// Request is the input of Run.
type Request struct {
	JobText       string
	ResumeText    string
	JobSummary    string
	ResumeSummary string
}

// NewRequest renders a parsed posting and resume into corpus text and
// summaries. The skill overlap is added to the candidate summary.
func NewRequest(job profile.JobPosting, resume profile.Resume) Request {
	rs := profile.ResumeSummary(resume)
	if m := profile.MatchSummary(job, resume); m != "" {
		rs = strings.TrimSpace(rs + "\n" + m)
	}
	return Request{
		JobText:       profile.JobText(job),
		ResumeText:    profile.ResumeText(resume),
		JobSummary:    profile.JobSummary(job),
		ResumeSummary: rs,
	}
}

// Run builds both indexes and drafts one email. When an archive is attached the
// session is saved; a failed save is logged and does not fail the draft.
func (p *Pipeline) Run(ctx context.Context, req Request, opts ...DraftOption) (*Session, error) {
	s := &Session{
		ID:     uuid.NewString(),
		Job:    models.NewDocument(models.SourceJob, req.JobText),
		Resume: models.NewDocument(models.SourceResume, req.ResumeText),
	}

	var o draftOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.progress != nil {
		o.progress(models.StageIndexing)
	}

	var err error
	s.JobIndex, s.ResumeIndex, err = p.buildIndexes(ctx, s.Job, s.Resume)
	if err != nil {
		return nil, err
	}

	s.Email, err = p.DraftEmail(ctx, s.JobIndex, s.ResumeIndex, req.JobSummary, req.ResumeSummary, opts...)
	if err != nil {
		return nil, err
	}

	if p.archive != nil {
		if err := p.archive.Save(ctx, s.Record()); err != nil {
			p.logger.Warn("failed to archive session", "session", s.ID, "error", err)
		}
	}
	return s, nil
}

// Record flattens the session for an Archive.
func (s *Session) Record() types.SessionRecord {
	rec := types.SessionRecord{ID: s.ID, Email: s.Email}
	for _, idx := range []*index.Index{s.JobIndex, s.ResumeIndex} {
		for _, e := range idx.Entries() {
			rec.Chunks = append(rec.Chunks, types.ArchivedChunk{SessionID: s.ID, Chunk: e.Chunk, Vector: e.Vector.Vector})
		}
	}
	return rec
}
