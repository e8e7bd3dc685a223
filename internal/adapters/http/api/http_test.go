package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/composite/internal/adapters/http/api"
	"github.com/okian/composite/internal/adapters/mq/queue"
	"github.com/okian/composite/internal/adapters/repository"
	service "github.com/okian/composite/internal/app"
	"github.com/okian/composite/internal/domain/lock"
	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init(logger.WithOutput(io.Discard))
}

type mockDeps struct {
	updateErr  error
	enqueueErr error
	duplicate  bool
	record     *model.Record
	history    []model.HistoryEntry
	lastKey    string
	lastSnap   model.Snapshot
	recomputed bool
}

func (m *mockDeps) UpdateComponentAndRecompute(_ context.Context, id int64, key string, p model.Payload) (model.Result, error) {
	m.lastKey = key
	if m.updateErr != nil {
		return model.Result{}, m.updateErr
	}
	if _, err := model.ParseComponentKey(key); err != nil {
		return model.Result{}, err
	}
	return model.Result{Status: model.StatusProvisional, Composite: *p.Norm, Grade: model.GradeB}, nil
}

func (m *mockDeps) RecomputeNow(_ context.Context, _ int64, snap model.Snapshot) (model.Result, error) {
	m.recomputed = true
	m.lastSnap = snap
	if m.updateErr != nil {
		return model.Result{}, m.updateErr
	}
	return model.Result{Status: model.StatusPending, Grade: model.GradeD}, nil
}

func (m *mockDeps) GetCurrent(_ context.Context, id int64) (model.Record, bool, error) {
	if m.record == nil {
		return model.Record{}, false, nil
	}
	return *m.record, true, nil
}

func (m *mockDeps) GetHistory(_ context.Context, _ int64) ([]model.HistoryEntry, error) {
	return m.history, nil
}

func (m *mockDeps) Enqueue(_ context.Context, e model.IngestEvent) (model.IngestEvent, bool, error) {
	if m.enqueueErr != nil {
		return e, false, m.enqueueErr
	}
	if e.EventID == "" {
		e.EventID = "generated"
	}
	return e, m.duplicate, nil
}

type mockStats struct{}

func (mockStats) GetStats(context.Context) map[string]any {
	return map[string]any{"started": true}
}

func newMux(deps api.Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, mockStats{}).Register(mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(rec *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return out
}

func TestPutComponent(t *testing.T) {
	Convey("Given the API over mock dependencies", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When a valid component is submitted", func() {
			rec := do(mux, http.MethodPut, "/applicants/12/components/skills", `{"norm": 64.5, "flags": ["retake"]}`)

			Convey("Then the new result is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				body := decode(rec)
				So(body["status_flag"], ShouldEqual, "provisional")
				So(body["composite"], ShouldEqual, 64.5)
				So(deps.lastKey, ShouldEqual, "skills")
			})
		})

		Convey("When the applicant id is not a positive integer", func() {
			a := do(mux, http.MethodPut, "/applicants/abc/components/skills", `{"norm": 1}`)
			b := do(mux, http.MethodPut, "/applicants/0/components/skills", `{"norm": 1}`)

			Convey("Then 400 is returned", func() {
				So(a.Code, ShouldEqual, http.StatusBadRequest)
				So(b.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the component key is unknown", func() {
			rec := do(mux, http.MethodPut, "/applicants/12/components/typing", `{"norm": 1}`)

			Convey("Then 400 is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the body is not JSON", func() {
			rec := do(mux, http.MethodPut, "/applicants/12/components/skills", `norm=1`)

			Convey("Then 400 is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(rec)["code"], ShouldEqual, "bad_request")
			})
		})

		Convey("When the applicant lock times out", func() {
			deps.updateErr = fmt.Errorf("%w: %w", service.ErrConflict, lock.ErrTimeout)
			rec := do(mux, http.MethodPut, "/applicants/12/components/skills", `{"norm": 1}`)

			Convey("Then 409 with Retry-After is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusConflict)
				So(rec.Header().Get("Retry-After"), ShouldEqual, "1")
				So(decode(rec)["retriable"], ShouldEqual, true)
			})
		})

		Convey("When persisting fails part way", func() {
			deps.updateErr = &repository.PersistError{Stage: repository.StageHistory, RecordWritten: true, Err: errors.New("disk")}
			rec := do(mux, http.MethodPut, "/applicants/12/components/skills", `{"norm": 1}`)

			Convey("Then 500 names the failing stage", func() {
				So(rec.Code, ShouldEqual, http.StatusInternalServerError)
				So(decode(rec)["stage"], ShouldEqual, "history")
			})
		})
	})
}

func TestReadEndpoints(t *testing.T) {
	Convey("Given the API over mock dependencies", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When an applicant without a composite is read", func() {
			rec := do(mux, http.MethodGet, "/applicants/5", "")

			Convey("Then 404 is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When an applicant with a composite is read", func() {
			deps.record = &model.Record{ApplicantID: 5, Result: model.Result{Status: model.StatusOK, Composite: 88, Grade: model.GradeA}}
			rec := do(mux, http.MethodGet, "/applicants/5", "")

			Convey("Then the record is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				body := decode(rec)
				So(body["applicant_id"], ShouldEqual, float64(5))
				So(body["result"].(map[string]any)["grade"], ShouldEqual, "A")
			})
		})

		Convey("When the history is read", func() {
			deps.history = []model.HistoryEntry{{ID: "h1", ApplicantID: 5, Seq: 1}, {ID: "h2", ApplicantID: 5, Seq: 2}}
			rec := do(mux, http.MethodGet, "/applicants/5/history", "")

			Convey("Then entries are returned in order", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				entries := decode(rec)["entries"].([]any)
				So(len(entries), ShouldEqual, 2)
				So(entries[0].(map[string]any)["id"], ShouldEqual, "h1")
			})
		})

		Convey("When health, stats and metrics are requested", func() {
			health := do(mux, http.MethodGet, "/healthz", "")
			stats := do(mux, http.MethodGet, "/stats", "")
			metricsRec := do(mux, http.MethodGet, "/metrics", "")

			Convey("Then each responds", func() {
				So(health.Code, ShouldEqual, http.StatusOK)
				So(decode(health)["status"], ShouldEqual, "ok")
				So(decode(stats)["started"], ShouldEqual, true)
				So(metricsRec.Code, ShouldEqual, http.StatusOK)
				So(metricsRec.Body.String(), ShouldContainSubstring, "composite_engine_http_requests_total")
			})
		})
	})
}

func TestRecomputeEndpoint(t *testing.T) {
	Convey("Given the API over mock dependencies", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When recompute is posted without a body", func() {
			rec := do(mux, http.MethodPost, "/applicants/3/recompute", "")

			Convey("Then the stored snapshot is used", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(deps.recomputed, ShouldBeTrue)
				So(deps.lastSnap, ShouldBeNil)
			})
		})

		Convey("When recompute is posted with components", func() {
			rec := do(mux, http.MethodPost, "/applicants/3/recompute", `{"components": {"skills": {"norm": 50}}}`)

			Convey("Then the supplied snapshot is forwarded", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(*deps.lastSnap[model.KeySkills].Norm, ShouldEqual, 50)
			})
		})
	})
}

func TestPostEvent(t *testing.T) {
	Convey("Given the API over mock dependencies", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)
		body := `{"event_id":"e-1","applicant_id":3,"component":"skills","payload":{"norm":70},"ts":"2026-03-01T12:00:00Z"}`

		Convey("When a new event is posted", func() {
			rec := do(mux, http.MethodPost, "/events", body)

			Convey("Then it is accepted", func() {
				So(rec.Code, ShouldEqual, http.StatusAccepted)
				So(decode(rec)["event_id"], ShouldEqual, "e-1")
			})
		})

		Convey("When the event is a duplicate", func() {
			deps.duplicate = true
			rec := do(mux, http.MethodPost, "/events", body)

			Convey("Then 200 with duplicate=true is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(decode(rec)["duplicate"], ShouldEqual, true)
			})
		})

		Convey("When the queue is full", func() {
			deps.enqueueErr = queue.ErrQueueFull
			rec := do(mux, http.MethodPost, "/events", body)

			Convey("Then 429 is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusTooManyRequests)
			})
		})

		Convey("When the timestamp is malformed", func() {
			rec := do(mux, http.MethodPost, "/events", `{"applicant_id":3,"component":"skills","ts":"yesterday"}`)

			Convey("Then 400 is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestEndToEnd(t *testing.T) {
	Convey("Given the API over a real service", t, func() {
		svc := service.New(service.WithClock(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }))
		mux := http.NewServeMux()
		api.NewServer(svc, svc).Register(mux)

		Convey("When components are submitted and the applicant is read", func() {
			for _, k := range []string{"psymetrics", "autoproctor", "physical", "skills"} {
				rec := do(mux, http.MethodPut, "/applicants/44/components/"+k, `{"norm": 80}`)
				So(rec.Code, ShouldEqual, http.StatusOK)
			}
			rec := do(mux, http.MethodGet, "/applicants/44", "")
			history := do(mux, http.MethodGet, "/applicants/44/history", "")

			Convey("Then the composite and full history are served", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				result := decode(rec)["result"].(map[string]any)
				So(result["status_flag"], ShouldEqual, "ok")
				So(result["composite"], ShouldEqual, 80.0)
				So(len(decode(history)["entries"].([]any)), ShouldEqual, 4)
			})
		})
	})
}
