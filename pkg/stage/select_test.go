package stage

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/forward/river/pkg/record"
	"github.com/forward/river/pkg/source"
)

var _ = Describe("Select", func() {
	var registry *source.Registry
	var ctx *Env
	var out *sink

	BeforeEach(func() {
		registry = source.NewRegistry(logger)
		ctx = NewEnv(registry, logger)
		out = &sink{}
	})

	Context("with a plain projection", func() {
		const doc = `
select:
  - name: name
    value: "$.user.name"
  - name: age
    value: "$.user.age"
from:
  stream: users
`
		It("projects inserts and removes symmetrically", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			rec := record.Record{"user": map[string]any{"name": "joe", "age": 42, "role": "dev"}}
			registry.Stream("users").Insert(rec)
			registry.Stream("users").Remove(rec)

			Expect(out.ops()).To(Equal([]string{"insert", "remove"}))
			Expect(out.events[0].rec).To(Equal(record.Record{"name": "joe", "age": 42}))
			Expect(out.events[1].rec).To(Equal(out.events[0].rec))
		})

		It("derives the display name from a bare path", func() {
			sel, err := NewSelect(ctx, mustParse(`
select:
  - "$.user.name"
from:
  stream: users
`))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			registry.Stream("users").Insert(record.Record{"user": map[string]any{"name": "joe"}})
			Expect(out.events).To(HaveLen(1))
			Expect(out.events[0].rec).To(Equal(record.Record{"name": "joe"}))
		})

		It("stops receiving events after Stop", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			sel.Pass(out)
			sel.Stop()

			registry.Stream("users").Insert(record.Record{"user": map[string]any{"name": "joe"}})
			Expect(out.events).To(BeEmpty())
		})
	})

	Context("with a where condition", func() {
		const doc = `
select:
  - name: item
    value: "$.item"
from:
  stream: orders
where:
  "@gt": ["$.amount", 3]
`
		var push func()

		BeforeEach(func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(sel.Stop)
			sel.Pass(out)
			push = func() {
				registry.Stream("orders").Insert(record.Record{"item": "a", "amount": 1})
				registry.Stream("orders").Insert(record.Record{"item": "b", "amount": 5})
			}
		})

		It("gates events on the condition", func() {
			push()
			Expect(out.ops()).To(Equal([]string{"insert"}))
			Expect(out.events[0].rec).To(Equal(record.Record{"item": "b"}))
		})

		It("keeps an update atomic when both sides pass", func() {
			push()
			out.reset()

			registry.Stream("orders").InsertRemove(
				record.Record{"item": "b2", "amount": 7},
				record.Record{"item": "b", "amount": 5})

			Expect(out.ops()).To(Equal([]string{"update"}))
			Expect(out.events[0].rec).To(Equal(record.Record{"item": "b2"}))
			Expect(out.events[0].old).To(Equal(record.Record{"item": "b"}))
		})

		It("degrades an update to the passing side", func() {
			push()
			out.reset()

			// New value fails the condition: only the retraction survives.
			registry.Stream("orders").InsertRemove(
				record.Record{"item": "b", "amount": 2},
				record.Record{"item": "b", "amount": 5})

			Expect(out.ops()).To(Equal([]string{"remove"}))
			Expect(out.events[0].rec).To(Equal(record.Record{"item": "b"}))
		})
	})

	Context("with distinct", func() {
		const doc = `
select:
  - name: item
    value: "$.item"
from:
  stream: orders
distinct: true
`
		It("collapses duplicates and removes on the last departure", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			orders := registry.Stream("orders")
			orders.Insert(record.Record{"item": "a", "id": 1})
			orders.Insert(record.Record{"item": "a", "id": 2})
			Expect(out.ops()).To(Equal([]string{"insert"}))

			orders.Remove(record.Record{"item": "a", "id": 1})
			Expect(out.ops()).To(Equal([]string{"insert"}))

			orders.Remove(record.Record{"item": "a", "id": 2})
			Expect(out.ops()).To(Equal([]string{"insert", "remove"}))
			Expect(out.events[1].rec).To(Equal(record.Record{"item": "a"}))
		})
	})

	Context("with a limit", func() {
		const doc = `
select:
  - name: item
    value: "$.item"
from:
  stream: orders
limit: 1
`
		It("caps inserts and never backfills a freed slot", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			orders := registry.Stream("orders")
			orders.Insert(record.Record{"item": "a"})
			orders.Remove(record.Record{"item": "a"})
			orders.Insert(record.Record{"item": "b"})

			Expect(out.ops()).To(Equal([]string{"insert", "remove"}))
			Expect(out.events[0].rec).To(Equal(record.Record{"item": "a"}))
		})

		It("passes updates of admitted records through at the cap", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			orders := registry.Stream("orders")
			orders.Insert(record.Record{"item": "a"})
			orders.InsertRemove(record.Record{"item": "a2"}, record.Record{"item": "a"})
			orders.Insert(record.Record{"item": "b"})

			Expect(out.ops()).To(Equal([]string{"insert", "update"}))
			Expect(out.events[1].rec).To(Equal(record.Record{"item": "a2"}))
			Expect(out.events[1].old).To(Equal(record.Record{"item": "a"}))
		})

		It("swallows retractions of records the cap suppressed", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			orders := registry.Stream("orders")
			orders.Insert(record.Record{"item": "a"})
			orders.Insert(record.Record{"item": "b"})
			orders.Remove(record.Record{"item": "b"})

			Expect(out.ops()).To(Equal([]string{"insert"}))
		})
	})

	Context("with a length window", func() {
		const doc = `
from:
  stream: readings
  window:
    kind: length
    size: 2
`
		It("synthesizes the remove for records falling out of the window", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			readings := registry.Stream("readings")
			a := record.Record{"v": 1}
			b := record.Record{"v": 2}
			c := record.Record{"v": 3}
			readings.Insert(a)
			readings.Insert(b)
			readings.Insert(c)

			Expect(out.ops()).To(Equal([]string{"insert", "insert", "insert", "remove"}))
			Expect(out.events[3].rec).To(Equal(a))
		})

		It("evicts on an explicit upstream remove without a duplicate", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			readings := registry.Stream("readings")
			a := record.Record{"v": 1}
			b := record.Record{"v": 2}
			readings.Insert(a)
			readings.Insert(b)
			readings.Remove(a)
			Expect(out.ops()).To(Equal([]string{"insert", "insert", "remove"}))

			// a already left the window: the balancing remove was emitted, nothing more to do.
			readings.Insert(record.Record{"v": 3})
			readings.Remove(a)
			Expect(out.ops()).To(Equal([]string{"insert", "insert", "remove", "insert"}))
		})
	})

	Context("with a time window", func() {
		const doc = `
from:
  stream: readings
  window:
    kind: time
    duration: 1s
`
		var clock *FakeClock

		BeforeEach(func() {
			clock = NewFakeClock(time.Unix(0, 0))
			ctx.Clock = clock
		})

		It("expires records as the clock advances", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			readings := registry.Stream("readings")
			a := record.Record{"v": 1}
			b := record.Record{"v": 2}

			readings.Insert(a)
			clock.Advance(500 * time.Millisecond)
			readings.Insert(b)
			Expect(out.ops()).To(Equal([]string{"insert", "insert"}))

			clock.Advance(600 * time.Millisecond)
			Expect(out.ops()).To(Equal([]string{"insert", "insert", "remove"}))
			Expect(out.events[2].rec).To(Equal(a))

			clock.Advance(500 * time.Millisecond)
			Expect(out.ops()).To(Equal([]string{"insert", "insert", "remove", "remove"}))
			Expect(out.events[3].rec).To(Equal(b))
		})

		It("keeps a single pending timer regardless of buffered records", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			readings := registry.Stream("readings")
			for i := 0; i < 100; i++ {
				readings.Insert(record.Record{"v": i})
			}
			Expect(clock.timers).To(HaveLen(1))

			clock.Advance(500 * time.Millisecond)
			readings.Insert(record.Record{"v": 100})
			Expect(clock.timers).To(HaveLen(1))

			// The first batch expires together and the timer re-arms for the remaining record.
			clock.Advance(600 * time.Millisecond)
			Expect(clock.timers).To(HaveLen(1))
			Expect(out.ops()).To(HaveLen(201))
		})

		It("stops expiring after Stop", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			sel.Pass(out)

			registry.Stream("readings").Insert(record.Record{"v": 1})
			sel.Stop()
			clock.Advance(2 * time.Second)

			Expect(out.ops()).To(Equal([]string{"insert"}))
		})
	})

	Context("with a join", func() {
		const doc = `
select:
  - "*"
from:
  stream: orders
  as: o
joins:
  - stream: users
    as: u
    condition:
      left: "$.customer"
      right: "$.id"
`
		var order, user record.Record

		BeforeEach(func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(sel.Stop)
			sel.Pass(out)

			order = record.Record{"customer": 1, "item": "x"}
			user = record.Record{"id": 1, "name": "joe"}
		})

		It("emits the combined record when both sides are present", func() {
			registry.Stream("orders").Insert(order)
			Expect(out.events).To(BeEmpty())

			registry.Stream("users").Insert(user)
			Expect(out.ops()).To(Equal([]string{"insert"}))
			Expect(out.events[0].rec).To(Equal(record.Record{"o": order, "u": user}))
		})

		It("retracts the combined record when one side departs", func() {
			registry.Stream("users").Insert(user)
			registry.Stream("orders").Insert(order)
			out.reset()

			registry.Stream("users").Remove(user)
			Expect(out.ops()).To(Equal([]string{"remove"}))
			Expect(out.events[0].rec).To(Equal(record.Record{"o": order, "u": user}))
		})

		It("does not match differing keys", func() {
			registry.Stream("users").Insert(record.Record{"id": 2, "name": "ann"})
			registry.Stream("orders").Insert(order)
			Expect(out.events).To(BeEmpty())
		})
	})

	Context("with aggregation", func() {
		const doc = `
select:
  - name: customer
    value: "$.customer"
  - name: total
    value:
      "@sum": "$.amount"
from:
  stream: orders
groupBy:
  - "$.customer"
`
		var orders *source.Stream

		BeforeEach(func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(sel.Stop)
			sel.Pass(out)
			orders = registry.Stream("orders")
		})

		It("maintains one row per group across the record lifecycle", func() {
			orders.Insert(record.Record{"customer": "a", "amount": 1})
			Expect(out.ops()).To(Equal([]string{"insert"}))
			Expect(out.events[0].rec).To(Equal(record.Record{"customer": "a", "total": float64(1)}))

			orders.Insert(record.Record{"customer": "a", "amount": 2})
			Expect(out.ops()).To(Equal([]string{"insert", "update"}))
			Expect(out.events[1].rec).To(Equal(record.Record{"customer": "a", "total": float64(3)}))
			Expect(out.events[1].old).To(Equal(record.Record{"customer": "a", "total": float64(1)}))

			orders.Remove(record.Record{"customer": "a", "amount": 1})
			Expect(out.ops()).To(Equal([]string{"insert", "update", "update"}))

			orders.Remove(record.Record{"customer": "a", "amount": 2})
			Expect(out.ops()).To(Equal([]string{"insert", "update", "update", "remove"}))
			Expect(out.events[3].rec).To(Equal(record.Record{"customer": "a", "total": float64(2)}))
		})

		It("keeps groups independent", func() {
			orders.Insert(record.Record{"customer": "a", "amount": 1})
			orders.Insert(record.Record{"customer": "b", "amount": 5})

			Expect(out.ops()).To(Equal([]string{"insert", "insert"}))
			Expect(out.events[1].rec).To(Equal(record.Record{"customer": "b", "total": float64(5)}))
		})

		It("suppresses updates that do not change the row", func() {
			orders.Insert(record.Record{"customer": "a", "amount": 1})
			orders.Insert(record.Record{"customer": "a", "amount": 0})

			Expect(out.ops()).To(Equal([]string{"insert"}))
		})

		It("handles a within-group update as one transition", func() {
			orders.Insert(record.Record{"customer": "a", "amount": 1})
			out.reset()

			orders.InsertRemove(
				record.Record{"customer": "a", "amount": 4},
				record.Record{"customer": "a", "amount": 1})

			Expect(out.ops()).To(Equal([]string{"update"}))
			Expect(out.events[0].rec).To(Equal(record.Record{"customer": "a", "total": float64(4)}))
		})
	})

	Context("with a having condition", func() {
		const doc = `
select:
  - name: customer
    value: "$.customer"
  - name: total
    value:
      "@sum": "$.amount"
from:
  stream: orders
groupBy:
  - "$.customer"
having:
  "@gte": ["$.total", 3]
`
		It("emits only while the rendered row passes", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			orders := registry.Stream("orders")
			orders.Insert(record.Record{"customer": "a", "amount": 1})
			Expect(out.events).To(BeEmpty())

			orders.Insert(record.Record{"customer": "a", "amount": 2})
			Expect(out.ops()).To(Equal([]string{"insert"}))
			Expect(out.events[0].rec).To(Equal(record.Record{"customer": "a", "total": float64(3)}))

			orders.Remove(record.Record{"customer": "a", "amount": 2})
			Expect(out.ops()).To(Equal([]string{"insert", "remove"}))
			Expect(out.events[1].rec).To(Equal(record.Record{"customer": "a", "total": float64(3)}))
		})
	})

	Context("with a union", func() {
		const doc = `
select:
  - name: item
    value: "$.item"
from:
  stream: orders
unions:
  - all: true
    query:
      select:
        - name: item
          value: "$.item"
      from:
        stream: returns
`
		It("merges both branches into one output", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			registry.Stream("orders").Insert(record.Record{"item": "a"})
			registry.Stream("returns").Insert(record.Record{"item": "b"})
			registry.Stream("returns").Remove(record.Record{"item": "b"})

			Expect(out.ops()).To(Equal([]string{"insert", "insert", "remove"}))
			Expect(out.events[0].rec).To(Equal(record.Record{"item": "a"}))
			Expect(out.events[1].rec).To(Equal(record.Record{"item": "b"}))
		})
	})

	Context("with a sub-query source", func() {
		const doc = `
select:
  - name: who
    value: "$.name"
from:
  query:
    select:
      - name: name
        value: "$.user.name"
    from:
      stream: users
    where:
      "@eq": ["$.user.active", true]
`
		It("feeds the inner query's results into the outer one", func() {
			sel, err := NewSelect(ctx, mustParse(doc))
			Expect(err).NotTo(HaveOccurred())
			defer sel.Stop()
			sel.Pass(out)

			users := registry.Stream("users")
			users.Insert(record.Record{"user": map[string]any{"name": "joe", "active": true}})
			users.Insert(record.Record{"user": map[string]any{"name": "ann", "active": false}})

			Expect(out.ops()).To(Equal([]string{"insert"}))
			Expect(out.events[0].rec).To(Equal(record.Record{"who": "joe"}))
		})
	})

	Context("with invalid configuration", func() {
		It("rejects an empty select list without a window", func() {
			_, err := NewSelect(ctx, mustParse(`
from:
  stream: orders
`))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("at least one field"))
		})

		It("rejects having without aggregation", func() {
			_, err := NewSelect(ctx, mustParse(`
select:
  - name: item
    value: "$.item"
from:
  stream: orders
having:
  "@gt": ["$.item", 1]
`))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("having"))
		})

		It("rejects groupBy without aggregation", func() {
			_, err := NewSelect(ctx, mustParse(`
select:
  - name: item
    value: "$.item"
from:
  stream: orders
groupBy:
  - "$.item"
`))
			Expect(err).To(HaveOccurred())
		})

		It("rejects a wrong aggregate arity at build time", func() {
			_, err := NewSelect(ctx, mustParse(`
select:
  - name: "n"
    value:
      "@count": []
from:
  stream: orders
`))
			Expect(err).To(HaveOccurred())
		})
	})
})
