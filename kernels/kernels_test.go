package kernels_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/duoduoyeah/tinygpusim/insts"
	"github.com/duoduoyeah/tinygpusim/kernels"
)

var _ = Describe("Launch", func() {
	It("should accept a well-formed descriptor", func() {
		l := kernels.Launch{KernelID: "k0", WarpCount: 4, EntryPC: 0x100, RegsPerWarp: 16}
		Expect(l.Validate()).To(Succeed())
	})

	It("should reject an empty kernel id", func() {
		l := kernels.Launch{WarpCount: 1}
		Expect(l.Validate()).To(HaveOccurred())
	})

	It("should reject a non-positive warp count", func() {
		l := kernels.Launch{KernelID: "k0", WarpCount: 0}
		Expect(l.Validate()).To(HaveOccurred())
	})

	It("should reject a negative register requirement", func() {
		l := kernels.Launch{KernelID: "k0", WarpCount: 1, RegsPerWarp: -1}
		Expect(l.Validate()).To(HaveOccurred())
	})
})

var _ = Describe("Program", func() {
	var program *kernels.Program

	BeforeEach(func() {
		program = kernels.NewProgram()
	})

	It("should fetch records by PC", func() {
		inst := &insts.Instruction{PC: 0x20, Class: insts.OpClassIntALU}
		program.Add(inst)

		got, ok := program.Fetch(0, 0x20)
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(inst))
	})

	It("should report end of program for an unmapped PC", func() {
		_, ok := program.Fetch(0, 0x1000)
		Expect(ok).To(BeFalse())
	})

	It("should replace a record added at the same PC", func() {
		program.Add(&insts.Instruction{PC: 0x20, Class: insts.OpClassIntALU})
		program.Add(&insts.Instruction{PC: 0x20, Class: insts.OpClassFPALU})

		Expect(program.Len()).To(Equal(1))
		got, _ := program.Fetch(0, 0x20)
		Expect(got.Class).To(Equal(insts.OpClassFPALU))
	})

	It("should serve the same record to every warp", func() {
		program.Add(&insts.Instruction{PC: 0x00, Class: insts.OpClassExit})

		a, _ := program.Fetch(0, 0x00)
		b, _ := program.Fetch(7, 0x00)
		Expect(a).To(BeIdenticalTo(b))
	})
})
