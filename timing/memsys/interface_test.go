package memsys_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/duoduoyeah/tinygpusim/insts"
	"github.com/duoduoyeah/tinygpusim/timing/memsys"
)

// captureSubsystem records submitted requests without completing them.
type captureSubsystem struct {
	requests []*memsys.Request
}

func (s *captureSubsystem) Submit(req *memsys.Request) {
	s.requests = append(s.requests, req)
}

func (s *captureSubsystem) MinLatency() uint64 { return 1 }

var _ = Describe("Interface", func() {
	var (
		sub *captureSubsystem
		m   *memsys.Interface
	)

	BeforeEach(func() {
		sub = &captureSubsystem{}
		m = memsys.NewInterface(64, 4, sub)
	})

	load := func(addrs ...uint64) *insts.Instruction {
		return &insts.Instruction{
			PC:        0x10,
			Class:     insts.OpClassLoad,
			Dst:       []insts.Reg{1},
			LaneAddrs: addrs,
		}
	}

	Describe("Issue", func() {
		It("should merge lanes in one granule into one request", func() {
			n, err := m.Issue(0, load(0x100, 0x104, 0x108, 0x10c), 0b1111, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(sub.requests).To(HaveLen(1))

			req := sub.requests[0]
			Expect(req.GranuleAddr).To(Equal(uint64(0x100)))
			Expect(req.LaneMask).To(Equal(uint64(0b1111)))
			Expect(req.LaneCount()).To(Equal(4))
		})

		It("should split lanes straddling a granule boundary", func() {
			n, err := m.Issue(0, load(0x100, 0x104, 0x140, 0x144), 0b1111, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(2))

			Expect(sub.requests[0].GranuleAddr).To(Equal(uint64(0x100)))
			Expect(sub.requests[0].LaneMask).To(Equal(uint64(0b0011)))
			Expect(sub.requests[1].GranuleAddr).To(Equal(uint64(0x140)))
			Expect(sub.requests[1].LaneMask).To(Equal(uint64(0b1100)))
		})

		It("should submit requests in first-touch lane order", func() {
			// lane 0 touches the high granule first
			n, err := m.Issue(0, load(0x140, 0x100, 0x144, 0x104), 0b1111, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(2))
			Expect(sub.requests[0].GranuleAddr).To(Equal(uint64(0x140)))
			Expect(sub.requests[1].GranuleAddr).To(Equal(uint64(0x100)))
		})

		It("should ignore inactive lanes", func() {
			n, err := m.Issue(0, load(0x100, 0x140, 0x180, 0x1c0), 0b0101, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(2))
			Expect(sub.requests[0].GranuleAddr).To(Equal(uint64(0x100)))
			Expect(sub.requests[1].GranuleAddr).To(Equal(uint64(0x180)))
		})

		It("should reject an issue with no active lanes", func() {
			_, err := m.Issue(0, load(0x100), 0b0, 0)
			Expect(err).To(MatchError(memsys.ErrNoActiveLanes))
		})

		It("should reject lane addresses that only cover masked lanes", func() {
			// addresses for lanes 0-1 but only lanes 2-3 active
			_, err := m.Issue(0, load(0x100, 0x104), 0b1100, 0)
			Expect(err).To(MatchError(memsys.ErrNoActiveLanes))
			Expect(sub.requests).To(BeEmpty())
		})

		It("should allow one memory instruction in flight per warp", func() {
			_, err := m.Issue(0, load(0x100), 0b1, 0)
			Expect(err).ToNot(HaveOccurred())
			_, err = m.Issue(0, load(0x200), 0b1, 1)
			Expect(err).To(HaveOccurred())
			Expect(err).ToNot(MatchError(memsys.ErrPortBusy))
		})

		It("should give each request a unique handle", func() {
			m.Issue(0, load(0x100, 0x140, 0x180), 0b111, 0)
			handles := map[string]bool{}
			for _, req := range sub.requests {
				handles[req.Handle] = true
			}
			Expect(handles).To(HaveLen(3))
		})

		It("should mark stores", func() {
			store := &insts.Instruction{
				Class:     insts.OpClassStore,
				Src:       []insts.Reg{1},
				LaneAddrs: []uint64{0x100},
			}
			_, err := m.Issue(0, store, 0b1, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(sub.requests[0].Store).To(BeTrue())
		})
	})

	Describe("Occupancy", func() {
		It("should stop accepting at the outstanding-instruction bound", func() {
			for w := 0; w < 4; w++ {
				Expect(m.CanAccept()).To(BeTrue())
				_, err := m.Issue(w, load(0x100), 0b1, 0)
				Expect(err).ToNot(HaveOccurred())
			}
			Expect(m.CanAccept()).To(BeFalse())
			_, err := m.Issue(4, load(0x100), 0b1, 0)
			Expect(err).To(MatchError(memsys.ErrPortBusy))
		})
	})

	Describe("Complete", func() {
		It("should finish the instruction once all requests completed", func() {
			m.Issue(0, load(0x100, 0x140), 0b11, 0)
			Expect(m.OutstandingRequests()).To(Equal(2))

			Expect(m.Complete(sub.requests[0].Handle)).To(Succeed())
			Expect(m.DrainFinished()).To(BeEmpty())
			Expect(m.OutstandingInstructions()).To(Equal(1))

			Expect(m.Complete(sub.requests[1].Handle)).To(Succeed())
			finished := m.DrainFinished()
			Expect(finished).To(HaveLen(1))
			Expect(finished[0].WarpID).To(Equal(0))
			Expect(m.OutstandingInstructions()).To(BeZero())
		})

		It("should accept completions in any order", func() {
			m.Issue(0, load(0x100, 0x140, 0x180), 0b111, 0)
			Expect(m.Complete(sub.requests[2].Handle)).To(Succeed())
			Expect(m.Complete(sub.requests[0].Handle)).To(Succeed())
			Expect(m.Complete(sub.requests[1].Handle)).To(Succeed())
			Expect(m.DrainFinished()).To(HaveLen(1))
		})

		It("should fail on an unknown handle", func() {
			Expect(m.Complete("no-such-request")).To(HaveOccurred())
		})

		It("should fail on a duplicate completion", func() {
			m.Issue(0, load(0x100), 0b1, 0)
			handle := sub.requests[0].Handle
			Expect(m.Complete(handle)).To(Succeed())
			Expect(m.Complete(handle)).To(HaveOccurred())
		})

		It("should clear the finished buffer on drain", func() {
			m.Issue(0, load(0x100), 0b1, 0)
			m.Complete(sub.requests[0].Handle)
			Expect(m.DrainFinished()).To(HaveLen(1))
			Expect(m.DrainFinished()).To(BeEmpty())
		})
	})

	Describe("Abort", func() {
		It("should discard all in-flight state", func() {
			m.Issue(0, load(0x100, 0x140), 0b11, 0)
			m.Complete(sub.requests[0].Handle)

			m.Abort()
			Expect(m.OutstandingRequests()).To(BeZero())
			Expect(m.OutstandingInstructions()).To(BeZero())
			Expect(m.DrainFinished()).To(BeEmpty())
			Expect(m.Complete(sub.requests[1].Handle)).To(HaveOccurred())
		})
	})
})
