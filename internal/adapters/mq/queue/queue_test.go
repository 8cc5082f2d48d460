package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/gridwatch/internal/adapters/mq/queue"
	"github.com/okian/gridwatch/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestInMemoryQueue(t *testing.T) {
	convey.Convey("Given an in-memory record queue", t, func() {
		ctx := context.Background()

		convey.Convey("When enqueueing within capacity", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(10), queue.WithBufferSize(10))
			defer func() { _ = q.Close() }()

			ok := q.Enqueue(ctx, model.Record{ID: 1, Rank: 1, Name: "Crew A", Point: 100})

			convey.Convey("Then the record is accepted", func() {
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(q.Len(ctx), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the queue is full", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(2), queue.WithBufferSize(2))
			defer func() { _ = q.Close() }()

			convey.So(q.Enqueue(ctx, model.Record{ID: 1}), convey.ShouldBeTrue)
			convey.So(q.Enqueue(ctx, model.Record{ID: 2}), convey.ShouldBeTrue)

			convey.Convey("Then further enqueues are rejected", func() {
				convey.So(q.Enqueue(ctx, model.Record{ID: 3}), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When dequeueing", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(10), queue.WithBufferSize(10))

			records := []model.Record{
				{ID: 10, Rank: 1, Name: "First", Point: 300},
				{ID: 20, Rank: 2, Name: "Second", Point: 200},
				{ID: 30, Rank: 3, Name: "Third", Point: 100},
			}
			for _, r := range records {
				convey.So(q.Enqueue(ctx, r), convey.ShouldBeTrue)
			}
			convey.So(q.Close(), convey.ShouldBeNil)

			convey.Convey("Then records drain in order and the channel closes", func() {
				var got []model.Record
				for r := range q.Dequeue(ctx) {
					got = append(got, r)
				}
				convey.So(len(got), convey.ShouldEqual, 3)
				convey.So(got[0].ID, convey.ShouldEqual, 10)
				convey.So(got[2].Name, convey.ShouldEqual, "Third")
			})
		})

		convey.Convey("When the queue is closed", func() {
			q := queue.NewInMemoryQueue()
			convey.So(q.Close(), convey.ShouldBeNil)

			convey.Convey("Then enqueue fails and close is idempotent", func() {
				convey.So(q.Enqueue(ctx, model.Record{ID: 1}), convey.ShouldBeFalse)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
				convey.So(q.Close(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the consumer context is cancelled mid-stream", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(10), queue.WithBufferSize(10))

			cancelCtx, cancel := context.WithCancel(ctx)
			out := q.Dequeue(cancelCtx)

			convey.So(q.Enqueue(ctx, model.Record{ID: 1}), convey.ShouldBeTrue)
			cancel()
			convey.So(q.Close(), convey.ShouldBeNil)

			convey.Convey("Then the dequeue channel eventually closes", func() {
				deadline := time.After(time.Second)
				for {
					select {
					case _, open := <-out:
						if !open {
							return
						}
					case <-deadline:
						t.Fatal("dequeue channel did not close")
					}
				}
			})
		})
	})
}
