package service_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/gridwatch/internal/adapters/ranking"
	"github.com/okian/gridwatch/internal/adapters/repository"
	"github.com/okian/gridwatch/internal/adapters/storage"
	service "github.com/okian/gridwatch/internal/app"
	"github.com/okian/gridwatch/internal/domain/event"
	"github.com/okian/gridwatch/internal/domain/model"
	"github.com/okian/gridwatch/internal/domain/projection"
	"github.com/okian/gridwatch/internal/mockranking"
	"github.com/okian/gridwatch/pkg/logger"
)

// testSchedule places day 1 of event 71 around the given instant so both
// categories are inside a legal harvest window at start+3h.
func testSchedule() (event.Schedule, time.Time) {
	day1 := time.Date(2026, 3, 12, 7, 0, 0, 0, time.UTC)
	s := event.Schedule{
		EventID:       71,
		Preliminaries: day1.Add(-72 * time.Hour),
		Interlude:     day1.Add(-24 * time.Hour),
		Day1:          day1,
		Day2:          day1.Add(24 * time.Hour),
		Day3:          day1.Add(48 * time.Hour),
		Day4:          day1.Add(72 * time.Hour),
		Day5:          day1.Add(96 * time.Hour),
		End:           day1.Add(120 * time.Hour),
	}
	return s, day1.Add(3 * time.Hour)
}

// movableClock is a settable time source shared with the service.
type movableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}
	return cond()
}

func TestServiceHarvestCycle(t *testing.T) {
	convey.Convey("Given a running tracker over a synthetic board", t, func() {
		convey.So(logger.Init(), convey.ShouldBeNil)
		ctx := context.Background()

		board := mockranking.New(
			mockranking.WithCrewCount(60),
			mockranking.WithPlayerCount(80),
			mockranking.WithPageSize(10),
		)
		srv := httptest.NewServer(board.Handler())
		defer srv.Close()

		remote, err := storage.NewDirStore(t.TempDir())
		convey.So(err, convey.ShouldBeNil)
		stores, err := storage.NewManager(t.TempDir(), remote,
			storage.WithTransferRetries(1),
			storage.WithTransferBackoff(time.Millisecond),
		)
		convey.So(err, convey.ShouldBeNil)

		schedule, start := testSchedule()
		clock := &movableClock{now: start}

		svc := service.New(schedule, stores,
			ranking.NewClient(srv.URL, ranking.WithRetryBackoff(time.Millisecond)),
			service.WithClock(clock.Now),
			service.WithCadence(time.Hour), // only the startup tick fires in tests
			service.WithDeadline(10*time.Second),
			service.WithWorkerCount(4),
			service.WithBatchSize(20),
			service.WithQueueSize(1000),
			service.WithCurveSource(ranking.NewCurveClient(srv.URL+"/curves")),
		)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		harvested := waitFor(t, 10*time.Second, func() bool {
			res, serr := svc.SearchCrews(ctx, repository.Term{Mode: model.SearchRank, Number: 1})
			return serr == nil && len(res.Current) == 1
		})
		convey.So(harvested, convey.ShouldBeTrue)

		convey.Convey("Then the startup tick filled the current generation", func() {
			res, err := svc.SearchCrews(ctx, repository.Term{Mode: model.SearchRank, Number: 1})
			convey.So(err, convey.ShouldBeNil)
			convey.So(res.Current, convey.ShouldHaveLength, 1)

			crew := res.Current[0]
			convey.So(crew.Name, convey.ShouldEqual, "Skyfarers 001")
			convey.So(crew.CurrentPhase(), convey.ShouldEqual, 1) // day 1 column
			convey.So(crew.CurrentRate, convey.ShouldBeNil)      // no elapsed baseline yet

			players, err := svc.SearchPlayers(ctx, repository.Term{Mode: model.SearchSubstring, Text: "Captain"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(players.Current, convey.ShouldHaveLength, 80)
		})

		convey.Convey("Then status reports the live phase and generations", func() {
			st, err := svc.Status(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(st.EventID, convey.ShouldEqual, 71)
			convey.So(st.Phase, convey.ShouldEqual, "day1")
			convey.So(st.CurvesLoaded, convey.ShouldBeTrue)
			convey.So(st.Generations[0], convey.ShouldNotBeNil)
			convey.So(st.Generations[0].EventID, convey.ShouldEqual, 71)
			convey.So(st.Harvests, convey.ShouldContainKey, "crew")
		})

		convey.Convey("When the board advances and a second cycle runs", func() {
			board.Advance()
			clock.Advance(20 * time.Minute)
			convey.So(svc.TriggerHarvestIfDue(ctx, clock.Now()), convey.ShouldBeNil)

			convey.Convey("Then rates derive from the observed delta", func() {
				res, err := svc.SearchCrews(ctx, repository.Term{Mode: model.SearchRank, Number: 1})
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Current, convey.ShouldHaveLength, 1)

				crew := res.Current[0]
				convey.So(crew.CurrentRate, convey.ShouldNotBeNil)
				// 200000 gained over 20 minutes.
				convey.So(*crew.CurrentRate, convey.ShouldAlmostEqual, 10_000, 1)
				convey.So(crew.TopRate, convey.ShouldNotBeNil)
			})

			convey.Convey("Then projections become available", func() {
				est, ok, err := svc.Project(ctx, "#50", projection.HorizonEndOfEvent)
				convey.So(err, convey.ShouldBeNil)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(est, convey.ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestServiceSkipsOutsideWindows(t *testing.T) {
	convey.Convey("Given a tracker outside any harvest window", t, func() {
		convey.So(logger.Init(), convey.ShouldBeNil)
		ctx := context.Background()

		board := mockranking.New()
		srv := httptest.NewServer(board.Handler())
		defer srv.Close()

		remote, err := storage.NewDirStore(t.TempDir())
		convey.So(err, convey.ShouldBeNil)
		stores, err := storage.NewManager(t.TempDir(), remote,
			storage.WithTransferRetries(1),
			storage.WithTransferBackoff(time.Millisecond),
		)
		convey.So(err, convey.ShouldBeNil)

		schedule, _ := testSchedule()
		// Interlude: no category may harvest.
		idle := schedule.Interlude.Add(time.Hour)

		svc := service.New(schedule, stores,
			ranking.NewClient(srv.URL),
			service.WithClock(func() time.Time { return idle }),
			service.WithCadence(time.Hour),
		)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		convey.So(svc.TriggerHarvestIfDue(ctx, idle), convey.ShouldBeNil)

		convey.Convey("Then nothing was harvested and the skip is recorded", func() {
			res, err := svc.SearchCrews(ctx, repository.Term{Mode: model.SearchRank, Number: 1})
			convey.So(err, convey.ShouldBeNil)
			convey.So(res.Current, convey.ShouldBeEmpty)
			convey.So(res.Infos[0], convey.ShouldBeNil)

			st, err := svc.Status(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(st.Phase, convey.ShouldEqual, "interlude")
			convey.So(st.Harvests["crew"].Skip, convey.ShouldEqual, "outside_event")
		})
	})
}
