package loader_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/duoduoyeah/tinygpusim/insts"
	"github.com/duoduoyeah/tinygpusim/kernels"
	"github.com/duoduoyeah/tinygpusim/loader"
)

var _ = Describe("Loader", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	validFile := func() *loader.File {
		return &loader.File{
			Kernel: kernels.Launch{
				KernelID: "vecadd", WarpCount: 2, EntryPC: 0, RegsPerWarp: 8,
			},
			Instructions: []loader.InstRecord{
				{PC: 0x00, Class: "load", Dst: []insts.Reg{1},
					LaneAddrs: []uint64{0x100, 0x104, 0x108, 0x10c}},
				{PC: 0x04, Class: "int_alu", Dst: []insts.Reg{2}, Src: []insts.Reg{1}},
				{PC: 0x08, Class: "branch", TakenPC: 0x10, NotTakenPC: 0x0c,
					ReconvergePC: 0x14, TakenLanes: 0b0011},
				{PC: 0x0c, Class: "fp_alu", Dst: []insts.Reg{3}, SuccPC: 0x14},
				{PC: 0x10, Class: "sfu", Dst: []insts.Reg{4}, LatencyOverride: 16},
				{PC: 0x14, Class: "exit"},
			},
		}
	}

	It("should round-trip a program through Save and Load", func() {
		path := filepath.Join(dir, "vecadd.json")
		Expect(loader.Save(path, validFile())).To(Succeed())

		launch, program, err := loader.Load(path)
		Expect(err).ToNot(HaveOccurred())

		Expect(launch.KernelID).To(Equal("vecadd"))
		Expect(launch.WarpCount).To(Equal(2))
		Expect(program.Len()).To(Equal(6))

		load, ok := program.Fetch(0, 0x00)
		Expect(ok).To(BeTrue())
		Expect(load.Class).To(Equal(insts.OpClassLoad))
		Expect(load.LaneAddrs).To(HaveLen(4))

		branch, _ := program.Fetch(0, 0x08)
		Expect(branch.Class).To(Equal(insts.OpClassBranch))
		Expect(branch.ReconvergePC).To(Equal(uint64(0x14)))
		Expect(branch.TakenLanes).To(Equal(uint64(0b0011)))

		sfu, _ := program.Fetch(0, 0x10)
		Expect(sfu.LatencyOverride).To(Equal(uint64(16)))

		fp, _ := program.Fetch(0, 0x0c)
		Expect(fp.NextPC()).To(Equal(uint64(0x14)))
	})

	It("should fail on a missing file", func() {
		_, _, err := loader.Load(filepath.Join(dir, "missing.json"))
		Expect(err).To(HaveOccurred())
	})

	It("should fail on malformed JSON", func() {
		path := filepath.Join(dir, "broken.json")
		Expect(os.WriteFile(path, []byte("{not json"), 0644)).To(Succeed())
		_, _, err := loader.Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("should fail on an invalid launch descriptor", func() {
		file := validFile()
		file.Kernel.WarpCount = 0
		path := filepath.Join(dir, "badlaunch.json")
		Expect(loader.Save(path, file)).To(Succeed())

		_, _, err := loader.Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("should fail on an empty instruction list", func() {
		file := &loader.File{
			Kernel: kernels.Launch{KernelID: "empty", WarpCount: 1},
		}
		path := filepath.Join(dir, "empty.json")
		Expect(loader.Save(path, file)).To(Succeed())

		_, _, err := loader.Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("should fail on an unknown opcode class", func() {
		file := validFile()
		file.Instructions[1].Class = "tensor_core"
		path := filepath.Join(dir, "badclass.json")
		Expect(loader.Save(path, file)).To(Succeed())

		_, _, err := loader.Load(path)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("tensor_core"))
	})

	It("should fail on a record that does not validate", func() {
		file := validFile()
		file.Instructions[0].LaneAddrs = nil
		path := filepath.Join(dir, "badinst.json")
		Expect(loader.Save(path, file)).To(Succeed())

		_, _, err := loader.Load(path)
		Expect(err).To(HaveOccurred())
	})
})
