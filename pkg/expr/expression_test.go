package expr

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/forward/river/pkg/record"
)

func parseExp(doc string) *Expression {
	var e Expression
	Expect(json.Unmarshal([]byte(doc), &e)).To(Succeed())
	return &e
}

var _ = Describe("Expression parsing", func() {
	It("parses a scalar literal", func() {
		e := parseExp(`42`)
		Expect(e.Op).To(Equal(OpLiteral))
		Expect(e.Literal).To(Equal(float64(42)))
	})

	It("parses a string literal", func() {
		e := parseExp(`"hello"`)
		Expect(e.Op).To(Equal(OpLiteral))
		Expect(e.Literal).To(Equal("hello"))
	})

	It("parses a JSONPath reference", func() {
		e := parseExp(`"$.spec.name"`)
		Expect(e.Op).To(Equal(OpPath))
		Expect(e.Literal).To(Equal("$.spec.name"))
	})

	It("parses an operator call with a list of arguments", func() {
		e := parseExp(`{"@eq": ["$.a", 1]}`)
		Expect(e.Op).To(Equal(OpEq))
		Expect(e.Args).To(HaveLen(2))
		Expect(e.Args[0].Op).To(Equal(OpPath))
		Expect(e.Args[1].Op).To(Equal(OpLiteral))
	})

	It("parses an operator call with a single argument", func() {
		e := parseExp(`{"@not": true}`)
		Expect(e.Op).To(Equal(OpNot))
		Expect(e.Args).To(HaveLen(1))
	})

	It("parses a list constructor", func() {
		e := parseExp(`[1, "$.a"]`)
		Expect(e.Op).To(Equal(OpList))
		Expect(e.Args).To(HaveLen(2))
	})

	It("parses a map constructor", func() {
		e := parseExp(`{"name": "$.spec.name", "fixed": 1}`)
		Expect(e.Op).To(Equal(OpDict))
		Expect(e.Dict).To(HaveKey("name"))
		Expect(e.Dict["name"].Op).To(Equal(OpPath))
	})

	It("round-trips through its compact form", func() {
		e := parseExp(`{"@and": [{"@gt": ["$.n", 1]}, {"@lt": ["$.n", 9]}]}`)
		b, err := json.Marshal(*e)
		Expect(err).NotTo(HaveOccurred())
		b2, err := json.Marshal(*parseExp(string(b)))
		Expect(err).NotTo(HaveOccurred())
		Expect(b2).To(Equal(b))
	})
})

var _ = Describe("Expression evaluation", func() {
	rec := record.Record{
		"spec": map[string]any{"name": "joe", "replicas": 3},
		"tags": []any{"a", "b"},
	}

	eval := func(doc string) any {
		v, err := parseExp(doc).Evaluate(EvalCtx{Object: rec})
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return v
	}

	It("resolves path references", func() {
		Expect(eval(`"$.spec.name"`)).To(Equal("joe"))
		Expect(eval(`"$.missing"`)).To(BeNil())
	})

	It("compares across numeric representations", func() {
		Expect(eval(`{"@eq": ["$.spec.replicas", 3.0]}`)).To(Equal(true))
		Expect(eval(`{"@ne": ["$.spec.replicas", 4]}`)).To(Equal(true))
	})

	It("orders numbers and strings", func() {
		Expect(eval(`{"@lt": ["$.spec.replicas", 5]}`)).To(Equal(true))
		Expect(eval(`{"@gte": ["$.spec.name", "joe"]}`)).To(Equal(true))
	})

	It("evaluates boolean connectives", func() {
		Expect(eval(`{"@and": [{"@gt": ["$.spec.replicas", 1]}, {"@eq": ["$.spec.name", "joe"]}]}`)).
			To(Equal(true))
		Expect(eval(`{"@or": [false, {"@not": false}]}`)).To(Equal(true))
	})

	It("evaluates membership", func() {
		Expect(eval(`{"@in": ["$.spec.name", ["ann", "joe"]]}`)).To(Equal(true))
		Expect(eval(`{"@in": ["$.spec.name", ["ann"]]}`)).To(Equal(false))
	})

	It("evaluates arithmetic", func() {
		Expect(eval(`{"@add": ["$.spec.replicas", 2]}`)).To(Equal(float64(5)))
		Expect(eval(`{"@mul": [2, 3, 4]}`)).To(Equal(float64(24)))
	})

	It("rejects division by zero", func() {
		_, err := parseExp(`{"@div": [1, 0]}`).Evaluate(EvalCtx{Object: rec})
		Expect(err).To(HaveOccurred())
	})

	It("concatenates strings and numbers", func() {
		Expect(eval(`{"@concat": ["$.spec.name", "-", "$.spec.replicas"]}`)).To(Equal("joe-3"))
	})

	It("tests property existence", func() {
		Expect(eval(`{"@exists": "$.spec.name"}`)).To(Equal(true))
		Expect(eval(`{"@exists": "$.spec.owner"}`)).To(Equal(false))
	})

	It("builds maps and lists", func() {
		Expect(eval(`{"who": "$.spec.name", "n": 1}`)).To(Equal(map[string]any{
			"who": "joe",
			"n":   float64(1),
		}))
		Expect(eval(`["$.spec.name", "x"]`)).To(Equal([]any{"joe", "x"}))
	})

	It("calls registered scalar functions", func() {
		Expect(eval(`{"@upper": "$.spec.name"}`)).To(Equal("JOE"))
		Expect(eval(`{"@lower": "JOE"}`)).To(Equal("joe"))
	})

	It("rejects unknown operators", func() {
		_, err := parseExp(`{"@bogus": 1}`).Evaluate(EvalCtx{Object: rec})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unknown operator"))
	})

	It("rejects a non-boolean condition", func() {
		_, err := parseExp(`{"@not": "$.spec.name"}`).Evaluate(EvalCtx{Object: rec})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Used properties", func() {
	It("collects paths from nested expressions", func() {
		e := parseExp(`{"@and": [{"@gt": ["$.spec.replicas", 1]}, {"@eq": ["$.spec.name", "$.meta.name"]}]}`)
		Expect(e.UsedProperties()).To(Equal([]string{"spec.replicas", "spec.name", "meta.name"}))
	})

	It("deduplicates repeated paths", func() {
		e := parseExp(`{"@add": ["$.n", "$.n"]}`)
		Expect(e.UsedProperties()).To(Equal([]string{"n"}))
	})

	It("descends into map constructors", func() {
		e := parseExp(`{"who": "$.spec.name"}`)
		Expect(e.UsedProperties()).To(Equal([]string{"spec.name"}))
	})

	It("returns nothing for pure literals", func() {
		Expect(parseExp(`42`).UsedProperties()).To(BeEmpty())
	})
})

var _ = Describe("Path helpers", func() {
	It("splits plain child paths into segments", func() {
		Expect(PathSegments("$.spec.name")).To(Equal([]string{"spec", "name"}))
		Expect(PathSegments("$")).To(BeEmpty())
	})

	It("rejects non-child fragments", func() {
		_, err := PathSegments("$.items[*]")
		Expect(err).To(HaveOccurred())
	})

	It("renders segments back into a path", func() {
		Expect(SegmentsToPath([]string{"spec", "name"})).To(Equal("$.spec.name"))
		Expect(SegmentsToPath(nil)).To(Equal("$"))
	})
})
