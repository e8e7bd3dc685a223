package components_test

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/okian/composite/internal/domain/components"
	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeReader struct {
	data map[int64][]byte
	err  error
}

func (f *fakeReader) LoadSnapshot(_ context.Context, id int64) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[id], nil
}

func newStore(r components.SnapshotReader) *components.Store {
	_ = logger.Init(logger.WithOutput(io.Discard))
	return components.NewStore(r, components.WithClock(func() time.Time { return fixedNow }))
}

func TestStoreRead(t *testing.T) {
	Convey("Given a store over stored snapshots", t, func() {
		ctx := context.Background()
		reader := &fakeReader{data: map[int64][]byte{
			1: []byte(`{"skills":{"norm":60,"flags":["retake"]}}`),
			2: []byte(`{"skills":`),
			3: []byte(`{"skills":{"norm":70},"typing":{"norm":10}}`),
		}}
		store := newStore(reader)

		Convey("When the applicant has a valid snapshot", func() {
			snap, err := store.Read(ctx, 1)

			Convey("Then the components are returned", func() {
				So(err, ShouldBeNil)
				So(*snap[model.KeySkills].Norm, ShouldEqual, 60)
				So(snap[model.KeySkills].Flags, ShouldResemble, []string{"retake"})
			})
		})

		Convey("When the applicant has no row", func() {
			snap, err := store.Read(ctx, 99)

			Convey("Then the snapshot is empty", func() {
				So(err, ShouldBeNil)
				So(snap, ShouldBeEmpty)
			})
		})

		Convey("When the stored data is malformed", func() {
			snap, err := store.Read(ctx, 2)

			Convey("Then an empty snapshot is used instead of failing", func() {
				So(err, ShouldBeNil)
				So(snap, ShouldBeEmpty)
			})
		})

		Convey("When the stored data holds an unknown key", func() {
			snap, err := store.Read(ctx, 3)

			Convey("Then the unknown entry is dropped", func() {
				So(err, ShouldBeNil)
				So(snap.Keys(), ShouldResemble, []model.ComponentKey{model.KeySkills})
			})
		})

		Convey("When the id is not positive", func() {
			_, err := store.Read(ctx, 0)

			Convey("Then ErrInvalidApplicant is returned", func() {
				So(errors.Is(err, model.ErrInvalidApplicant), ShouldBeTrue)
			})
		})

		Convey("When the reader fails", func() {
			reader.err = errors.New("disk gone")
			_, err := store.Read(ctx, 1)

			Convey("Then the storage error is surfaced", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "disk gone")
			})
		})
	})
}

func TestStoreMerge(t *testing.T) {
	Convey("Given an applicant with a stored skills component", t, func() {
		ctx := context.Background()
		store := newStore(&fakeReader{data: map[int64][]byte{
			7: []byte(`{"skills":{"norm":60,"flags":["retake"]}}`),
		}})

		Convey("When medical is merged", func() {
			snap, err := store.Merge(ctx, 7, "Medical", model.Payload{
				Norm:  model.Float(80),
				Flags: []string{" not_cleared ", "not_cleared", ""},
			})

			Convey("Then skills is untouched and medical is normalized", func() {
				So(err, ShouldBeNil)
				So(*snap[model.KeySkills].Norm, ShouldEqual, 60)
				med := snap[model.KeyMedical]
				So(med.Flags, ShouldResemble, []string{"not_cleared"})
				So(med.UpdatedAt, ShouldEqual, fixedNow)
			})
		})

		Convey("When skills is merged again", func() {
			snap, err := store.Merge(ctx, 7, "skills", model.Payload{Norm: model.Float(150)})

			Convey("Then the component is replaced wholesale with a clamped norm", func() {
				So(err, ShouldBeNil)
				So(*snap[model.KeySkills].Norm, ShouldEqual, 100)
				So(snap[model.KeySkills].Flags, ShouldBeEmpty)
			})
		})

		Convey("When the raw value is not finite", func() {
			snap, err := store.Merge(ctx, 7, "skills", model.Payload{Raw: model.Float(math.Inf(1)), Norm: model.Float(70)})

			Convey("Then raw is dropped and the snapshot still encodes", func() {
				So(err, ShouldBeNil)
				So(snap[model.KeySkills].Raw, ShouldBeNil)
				So(*snap[model.KeySkills].Norm, ShouldEqual, 70)
				_, encErr := components.EncodeSnapshot(snap)
				So(encErr, ShouldBeNil)
			})
		})

		Convey("When the key is unknown", func() {
			_, err := store.Merge(ctx, 7, "typing", model.Payload{})

			Convey("Then ErrUnknownComponent is returned", func() {
				So(errors.Is(err, model.ErrUnknownComponent), ShouldBeTrue)
			})
		})

		Convey("When the id is invalid", func() {
			_, err := store.Merge(ctx, -1, "skills", model.Payload{})

			Convey("Then ErrInvalidApplicant is returned", func() {
				So(errors.Is(err, model.ErrInvalidApplicant), ShouldBeTrue)
			})
		})
	})
}

func TestNormalize(t *testing.T) {
	Convey("Given a caller-supplied snapshot", t, func() {
		snap := model.Snapshot{
			"Skills": {Norm: model.Float(120), Flags: []string{"a", "a"}, UpdatedAt: fixedNow},
			"typing": {Norm: model.Float(50)},
		}

		out, dropped := components.Normalize(snap)

		Convey("Then keys are canonical, norms clamped and unknown keys dropped", func() {
			So(dropped, ShouldResemble, []string{"typing"})
			So(out.Keys(), ShouldResemble, []model.ComponentKey{model.KeySkills})
			c := out[model.KeySkills]
			So(c.Key, ShouldEqual, model.KeySkills)
			So(*c.Norm, ShouldEqual, 100)
			So(c.Flags, ShouldResemble, []string{"a"})
			So(c.UpdatedAt, ShouldEqual, fixedNow)
		})
	})
}

func TestNormalizeCaseCollisions(t *testing.T) {
	Convey("Given keys that differ only in case", t, func() {
		Convey("When the lower-case spelling is present", func() {
			for i := 0; i < 20; i++ {
				out, dropped := components.Normalize(model.Snapshot{
					"Skills": {Norm: model.Float(10)},
					"SKILLS": {Norm: model.Float(20)},
					"skills": {Norm: model.Float(30)},
				})

				So(*out[model.KeySkills].Norm, ShouldEqual, 30)
				So(dropped, ShouldResemble, []string{"SKILLS", "Skills"})
			}
		})

		Convey("When only mixed-case spellings are present", func() {
			for i := 0; i < 20; i++ {
				out, dropped := components.Normalize(model.Snapshot{
					"Skills": {Norm: model.Float(10)},
					"SKILLS": {Norm: model.Float(20)},
				})

				So(*out[model.KeySkills].Norm, ShouldEqual, 20)
				So(dropped, ShouldResemble, []string{"Skills"})
			}
		})
	})
}
