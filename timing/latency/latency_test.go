package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/duoduoyeah/tinygpusim/insts"
	"github.com/duoduoyeah/tinygpusim/timing/latency"
)

var _ = Describe("Table", func() {
	var table *latency.Table

	BeforeEach(func() {
		table = latency.NewTable()
	})

	Describe("Default Latencies", func() {
		It("should have single-cycle integer ALU", func() {
			Expect(table.ForClass(insts.OpClassIntALU)).To(Equal(uint64(1)))
		})

		It("should have a 4-cycle FP pipeline", func() {
			Expect(table.ForClass(insts.OpClassFPALU)).To(Equal(uint64(4)))
		})

		It("should have an 8-cycle SFU pipeline", func() {
			Expect(table.ForClass(insts.OpClassSFU)).To(Equal(uint64(8)))
		})

		It("should have single-cycle branches", func() {
			Expect(table.ForClass(insts.OpClassBranch)).To(Equal(uint64(1)))
		})
	})

	Describe("ForInst", func() {
		It("should use the class latency by default", func() {
			inst := &insts.Instruction{Class: insts.OpClassSFU}
			Expect(table.ForInst(inst)).To(Equal(uint64(8)))
		})

		It("should honor a per-record override", func() {
			inst := &insts.Instruction{Class: insts.OpClassSFU, LatencyOverride: 20}
			Expect(table.ForInst(inst)).To(Equal(uint64(20)))
		})
	})
})

var _ = Describe("Config", func() {
	var config *latency.Config

	BeforeEach(func() {
		config = latency.DefaultConfig()
	})

	It("should validate the defaults", func() {
		Expect(config.Validate()).To(Succeed())
	})

	Describe("Validate", func() {
		It("should reject a warp width beyond the mask", func() {
			config.WarpWidth = 65
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject an unknown scheduler policy", func() {
			config.SchedulerPolicy = "random"
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject an unknown hazard mode", func() {
			config.HazardMode = "speculative"
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject a non-power-of-two granule", func() {
			config.GranuleSize = 48
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject a unit with occupancy below its issue width", func() {
			config.SFU.IssueWidth = 4
			config.SFU.Occupancy = 2
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject a zero-depth unit", func() {
			config.IntALU.Depth = 0
			Expect(config.Validate()).To(HaveOccurred())
		})
	})

	Describe("Save and Load", func() {
		It("should round-trip through a file", func() {
			config.WarpWidth = 16
			config.SchedulerPolicy = latency.PolicyLoosestScoreboard
			config.SFU.Depth = 12

			path := filepath.Join(GinkgoT().TempDir(), "core.json")
			Expect(config.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded).To(Equal(config))
		})

		It("should keep defaults for fields missing from the file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "partial.json")
			Expect(os.WriteFile(path, []byte(`{"warp_width": 8}`), 0644)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded.WarpWidth).To(Equal(8))
			Expect(loaded.GranuleSize).To(Equal(uint64(64)))
			Expect(loaded.SchedulerPolicy).To(Equal(latency.PolicyRoundRobin))
		})

		It("should fail on a missing file", func() {
			_, err := latency.LoadConfig("/nonexistent/core.json")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Clone", func() {
		It("should not share mutations with the original", func() {
			clone := config.Clone()
			clone.WarpWidth = 8
			Expect(config.WarpWidth).To(Equal(32))
		})
	})
})
