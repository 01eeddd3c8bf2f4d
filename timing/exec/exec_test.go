package exec_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/duoduoyeah/tinygpusim/insts"
	"github.com/duoduoyeah/tinygpusim/timing/exec"
	"github.com/duoduoyeah/tinygpusim/timing/latency"
)

var _ = Describe("Unit", func() {
	alu := &insts.Instruction{Class: insts.OpClassIntALU, Dst: []insts.Reg{1}}

	It("should complete a single-cycle instruction on the next tick", func() {
		u := exec.NewUnit("int_alu", latency.UnitConfig{IssueWidth: 1, Depth: 1, Occupancy: 4})
		Expect(u.TryIssue(0, alu, 1)).To(BeTrue())

		done := u.Tick()
		Expect(done).To(HaveLen(1))
		Expect(done[0].WarpID).To(Equal(0))
		Expect(done[0].Inst).To(BeIdenticalTo(alu))
		Expect(u.InFlight()).To(BeZero())
	})

	It("should hold a multi-cycle instruction until its latency elapses", func() {
		u := exec.NewUnit("sfu", latency.UnitConfig{IssueWidth: 1, Depth: 8, Occupancy: 4})
		Expect(u.TryIssue(0, alu, 3)).To(BeTrue())

		Expect(u.Tick()).To(BeEmpty())
		Expect(u.Tick()).To(BeEmpty())
		Expect(u.Tick()).To(HaveLen(1))
	})

	It("should limit issues per cycle to the issue width", func() {
		u := exec.NewUnit("int_alu", latency.UnitConfig{IssueWidth: 1, Depth: 1, Occupancy: 4})
		Expect(u.TryIssue(0, alu, 2)).To(BeTrue())
		Expect(u.CanAccept()).To(BeFalse())
		Expect(u.TryIssue(1, alu, 2)).To(BeFalse())

		u.Tick()
		Expect(u.CanAccept()).To(BeTrue())
	})

	It("should refuse issue when all pipeline slots are occupied", func() {
		u := exec.NewUnit("fp_alu", latency.UnitConfig{IssueWidth: 2, Depth: 4, Occupancy: 2})
		Expect(u.TryIssue(0, alu, 4)).To(BeTrue())
		Expect(u.TryIssue(1, alu, 4)).To(BeTrue())
		Expect(u.CanAccept()).To(BeFalse())

		u.Tick()
		Expect(u.CanAccept()).To(BeFalse())
	})

	It("should overlap pipelined instructions", func() {
		u := exec.NewUnit("fp_alu", latency.UnitConfig{IssueWidth: 1, Depth: 4, Occupancy: 8})
		Expect(u.TryIssue(0, alu, 2)).To(BeTrue())
		Expect(u.Tick()).To(BeEmpty())

		Expect(u.TryIssue(1, alu, 2)).To(BeTrue())
		done := u.Tick()
		Expect(done).To(HaveLen(1))
		Expect(done[0].WarpID).To(Equal(0))

		done = u.Tick()
		Expect(done).To(HaveLen(1))
		Expect(done[0].WarpID).To(Equal(1))
	})

	It("should treat a zero latency as one cycle", func() {
		u := exec.NewUnit("int_alu", latency.UnitConfig{IssueWidth: 1, Depth: 1, Occupancy: 4})
		Expect(u.TryIssue(0, alu, 0)).To(BeTrue())
		Expect(u.Tick()).To(HaveLen(1))
	})

	It("should count busy and idle cycles", func() {
		u := exec.NewUnit("int_alu", latency.UnitConfig{IssueWidth: 1, Depth: 1, Occupancy: 4})
		u.Tick()
		u.TryIssue(0, alu, 2)
		u.Tick()
		u.Tick()

		stats := u.Stats()
		Expect(stats.Issued).To(Equal(uint64(1)))
		Expect(stats.IdleCycles).To(Equal(uint64(1)))
		Expect(stats.BusyCycles).To(Equal(uint64(2)))
	})

	It("should discard in-flight work on flush", func() {
		u := exec.NewUnit("sfu", latency.UnitConfig{IssueWidth: 1, Depth: 8, Occupancy: 4})
		u.TryIssue(0, alu, 5)
		u.Flush()
		Expect(u.InFlight()).To(BeZero())
		Expect(u.Tick()).To(BeEmpty())
	})
})

var _ = Describe("Pool", func() {
	var pool *exec.Pool

	BeforeEach(func() {
		pool = exec.NewPool(latency.DefaultConfig())
	})

	It("should serve each compute class with its own unit", func() {
		classes := map[insts.OpClass]string{
			insts.OpClassIntALU: "int_alu",
			insts.OpClassFPALU:  "fp_alu",
			insts.OpClassSFU:    "sfu",
			insts.OpClassBranch: "branch",
		}
		for class, name := range classes {
			u, err := pool.UnitFor(class)
			Expect(err).ToNot(HaveOccurred())
			Expect(u.Name()).To(Equal(name))
		}
	})

	It("should not serve memory or control pseudo-classes", func() {
		_, err := pool.UnitFor(insts.OpClassLoad)
		Expect(err).To(HaveOccurred())
		_, err = pool.UnitFor(insts.OpClassExit)
		Expect(err).To(HaveOccurred())
	})

	It("should collect writebacks from all units on one tick", func() {
		alu := &insts.Instruction{Class: insts.OpClassIntALU}
		br := &insts.Instruction{Class: insts.OpClassBranch}

		intALU, _ := pool.UnitFor(insts.OpClassIntALU)
		branch, _ := pool.UnitFor(insts.OpClassBranch)
		Expect(intALU.TryIssue(0, alu, 1)).To(BeTrue())
		Expect(branch.TryIssue(1, br, 1)).To(BeTrue())

		done := pool.Tick()
		Expect(done).To(HaveLen(2))
		// fixed unit order keeps writebacks deterministic
		Expect(done[0].WarpID).To(Equal(0))
		Expect(done[1].WarpID).To(Equal(1))
	})

	It("should flush every unit", func() {
		alu := &insts.Instruction{Class: insts.OpClassSFU}
		sfu, _ := pool.UnitFor(insts.OpClassSFU)
		sfu.TryIssue(0, alu, 8)

		pool.Flush()
		for _, u := range pool.Units() {
			Expect(u.InFlight()).To(BeZero())
		}
	})
})
