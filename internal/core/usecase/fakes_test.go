package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

type jobStoreFake struct {
	mu        sync.Mutex
	jobs      map[string]*domain.JobState
	created   []*domain.Job
	events    []string
	createErr error
	statusErr error
}

func newJobStoreFake() *jobStoreFake {
	return &jobStoreFake{jobs: map[string]*domain.JobState{}}
}

func (f *jobStoreFake) Create(_ context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copyJob := *job
	f.created = append(f.created, &copyJob)
	f.jobs[job.ID] = &domain.JobState{JobID: job.ID, Status: job.Status}
	f.events = append(f.events, "status:"+string(job.Status))
	return nil
}

func (f *jobStoreFake) UpdateStatus(_ context.Context, jobID string, status domain.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	state := f.state(jobID)
	state.Status = status
	f.events = append(f.events, "status:"+string(status))
	return nil
}

func (f *jobStoreFake) SaveResult(_ context.Context, jobID string, result *domain.JobResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.state(jobID)
	state.Result = result
	state.Error = nil
	f.events = append(f.events, "result")
	return nil
}

func (f *jobStoreFake) SaveError(_ context.Context, jobID string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := message
	state := f.state(jobID)
	state.Error = &msg
	state.Result = nil
	f.events = append(f.events, "error")
	return nil
}

func (f *jobStoreFake) Get(_ context.Context, jobID string) (*domain.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("job %s", jobID))
	}
	copyState := *state
	return &copyState, nil
}

func (f *jobStoreFake) state(jobID string) *domain.JobState {
	state, ok := f.jobs[jobID]
	if !ok {
		state = &domain.JobState{JobID: jobID}
		f.jobs[jobID] = state
	}
	return state
}

type jobQueueFake struct {
	published []domain.JobMessage
	err       error
}

func (f *jobQueueFake) PublishJob(_ context.Context, msg domain.JobMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *jobQueueFake) SubscribeJobs(context.Context, func(context.Context, domain.JobMessage) error) error {
	return errors.New("not implemented")
}

type storageFake struct {
	savedKey  string
	savedBody string
	err       error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.savedBody)), nil
}

func (f *storageFake) Locate(key string) string { return "/data/uploads/" + key }

type embedderFake struct {
	vectors    [][]float32
	queryVec   []float32
	err        error
	queryErr   error
	queryCalls int
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.vectors != nil {
		return f.vectors, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1, 0}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	f.queryCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryVec == nil {
		return []float32{1, 0, 0}, nil
	}
	return f.queryVec, nil
}

type vectorIndexFake struct {
	mu          sync.Mutex
	ensuredDim  int
	upserted    []domain.ChunkRecord
	hits        []domain.Candidate
	searchErr   error
	upsertErr   error
	pages       map[string]domain.ScrollPage
	scrollErr   error
	lastFilter  domain.SearchFilter
	searchLimit int
}

func (f *vectorIndexFake) Collection() string { return "idp_chunks" }

func (f *vectorIndexFake) EnsureCollection(_ context.Context, dim int) error {
	f.ensuredDim = dim
	return nil
}

func (f *vectorIndexFake) Upsert(_ context.Context, records []domain.ChunkRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, records...)
	return nil
}

func (f *vectorIndexFake) Search(_ context.Context, _ []float32, limit int, filter domain.SearchFilter) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	f.searchLimit = limit
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func (f *vectorIndexFake) Scroll(_ context.Context, cursor string, _ int) (domain.ScrollPage, error) {
	if f.scrollErr != nil {
		return domain.ScrollPage{}, f.scrollErr
	}
	return f.pages[cursor], nil
}

type keywordIndexFake struct {
	mu         sync.Mutex
	resets     int
	batches    [][]domain.KeywordDoc
	failBatch  int
	hits       []domain.Candidate
	searchErr  error
	lastQuery  string
	writeCalls int
}

func (f *keywordIndexFake) Reset(context.Context) error {
	f.resets++
	f.batches = nil
	return nil
}

func (f *keywordIndexFake) BulkWrite(_ context.Context, docs []domain.KeywordDoc) error {
	f.writeCalls++
	if f.failBatch > 0 && f.writeCalls == f.failBatch {
		return errors.New("disk full")
	}
	batch := make([]domain.KeywordDoc, len(docs))
	copy(batch, docs)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *keywordIndexFake) Search(_ context.Context, query string, _ int, _ domain.SearchFilter) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = query
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}
