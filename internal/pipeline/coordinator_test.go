package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/ocr-scanner/internal/receipt"
	"github.com/zombor/ocr-scanner/internal/scanning"
)

var _ = Describe("Coordinator", func() {
	var (
		ctx         context.Context
		primary     *fakeRecognizer
		factory     *engineFactory
		sink        *fakeSink
		transitions *recordedTransitions
		notices     *recordedNotices
		initialMode Mode
		coord       *Coordinator
	)

	BeforeEach(func() {
		ctx = context.Background()
		primary = &fakeRecognizer{rec: &scanning.Recognition{Text: "  Hello world\n"}}
		factory = &engineFactory{proto: fakeFormula{loadable: true, text: "1 + 1"}}
		sink = &fakeSink{}
		transitions = &recordedTransitions{}
		notices = &recordedNotices{}
		initialMode = ModeText
	})

	JustBeforeEach(func() {
		coord = NewCoordinator(primary, newManager(factory), Options{
			Mode:         initialMode,
			Sink:         sink,
			Notify:       notices.record,
			OnTransition: transitions.record,
			Logger:       discardLogger,
		})
		DeferCleanup(coord.Close)
	})

	Describe("a text scan", func() {
		var (
			result *Result
			err    error
		)

		JustBeforeEach(func() {
			result, err = coord.Scan(ctx, imageSource(testImage(40, 20), "img/1.png", ""), image.Rectangle{})
		})

		It("returns the trimmed text", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Mode).To(Equal(ModeText))
			Expect(result.Text).To(Equal("Hello world"))
		})

		It("routes the result to the sink", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(sink.texts).To(Equal([]TextRecord{{Mode: ModeText, Text: "Hello world", ImageRef: "img/1.png"}}))
			Expect(result.RecordID).To(Equal("doc-1"))
		})

		It("walks the phases back to idle", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(transitions.get()).To(Equal([][2]Phase{
				{PhaseIdle, PhaseCapturing},
				{PhaseCapturing, PhaseCropping},
				{PhaseCropping, PhaseRecognizing},
				{PhaseRecognizing, PhaseDone},
				{PhaseDone, PhaseIdle},
			}))
			Expect(coord.Status().Phase).To(Equal(PhaseIdle))
		})

		It("does not touch the math engine", func() {
			Expect(factory.count()).To(BeZero())
			Expect(coord.Status().Engine).To(Equal(scanning.EngineUninitialized))
		})

		When("the engine finds no text", func() {
			BeforeEach(func() {
				primary.rec = &scanning.Recognition{Text: " \n "}
			})

			It("fails with an empty result", func() {
				Expect(errors.Is(err, scanning.ErrEmptyResult)).To(BeTrue())
				Expect(sink.texts).To(BeEmpty())
			})

			It("passes through failed and returns to idle", func() {
				Expect(transitions.get()).To(ContainElement([2]Phase{PhaseRecognizing, PhaseFailed}))
				Expect(transitions.get()).To(ContainElement([2]Phase{PhaseFailed, PhaseIdle}))
				Expect(coord.Status().Phase).To(Equal(PhaseIdle))
				Expect(coord.Status().LastError).To(Equal("no text found"))
			})

			It("notifies the user", func() {
				Expect(notices.kinds()).To(Equal([]NoticeKind{NoticeRecognitionFailed}))
			})
		})

		When("the engine fails", func() {
			BeforeEach(func() {
				primary.err = errors.New("quota exceeded")
			})

			It("fails with a recognition error", func() {
				Expect(errors.Is(err, scanning.ErrRecognition)).To(BeTrue())
				Expect(coord.Status().Phase).To(Equal(PhaseIdle))
			})
		})

		When("the sink fails", func() {
			BeforeEach(func() {
				sink.err = errors.New("disk full")
			})

			It("reports the failure", func() {
				Expect(err).To(MatchError(ContainSubstring("disk full")))
				Expect(transitions.get()).To(ContainElement([2]Phase{PhaseRecognizing, PhaseFailed}))
			})
		})
	})

	Describe("Capture", func() {
		It("rejects a capture while another is being acquired", func() {
			release := make(chan struct{})
			slow := SourceFunc(func(context.Context) (*Capture, error) {
				<-release
				return &Capture{Image: testImage(4, 4)}, nil
			})

			outcome, err := coord.Capture(ctx, slow)
			Expect(err).NotTo(HaveOccurred())

			_, err = coord.Capture(ctx, slow)
			Expect(err).To(MatchError(ErrBusy))

			close(release)
			Eventually(outcome).Should(Receive(HaveField("Err", BeNil())))
		})

		It("rejects a capture while cropping", func() {
			outcome, err := coord.Capture(ctx, imageSource(testImage(4, 4), "", ""))
			Expect(err).NotTo(HaveOccurred())
			Eventually(outcome).Should(Receive())

			_, err = coord.Capture(ctx, imageSource(testImage(4, 4), "", ""))
			Expect(errors.Is(err, ErrBusy)).To(BeTrue())
			Expect(coord.Status().Phase).To(Equal(PhaseCropping))
		})

		It("rejects a capture while recognizing", func() {
			block := make(chan struct{})
			primary.rec = &scanning.Recognition{Text: "slow"}
			slowPrimary := &blockingRecognizer{fakeRecognizer: primary, block: block}
			coord2 := NewCoordinator(slowPrimary, newManager(factory), Options{Logger: discardLogger})
			defer coord2.Close()

			done := make(chan error, 1)
			go func() {
				_, err := coord2.Scan(ctx, imageSource(testImage(4, 4), "", ""), image.Rectangle{})
				done <- err
			}()
			Eventually(func() Phase { return coord2.Status().Phase }).Should(Equal(PhaseRecognizing))

			_, err := coord2.Capture(ctx, imageSource(testImage(4, 4), "", ""))
			Expect(errors.Is(err, ErrBusy)).To(BeTrue())

			close(block)
			Eventually(done).Should(Receive(BeNil()))
		})

		When("the raster cannot be decoded", func() {
			It("returns to idle with a decode error", func() {
				outcome, err := coord.Capture(ctx, BytesSource{Data: []byte("not an image"), ContentType: "image/png"})
				Expect(err).NotTo(HaveOccurred())

				var res CaptureOutcome
				Eventually(outcome).Should(Receive(&res))
				Expect(errors.Is(res.Err, scanning.ErrDecode)).To(BeTrue())
				Expect(coord.Status().Phase).To(Equal(PhaseIdle))
				Expect(notices.kinds()).To(Equal([]NoticeKind{NoticeCaptureFailed}))
				Expect(primary.calls()).To(BeZero())
			})
		})

		It("processes captures one after another", func() {
			for i := 0; i < 3; i++ {
				_, err := coord.Scan(ctx, imageSource(testImage(4, 4), "", ""), image.Rectangle{})
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(primary.calls()).To(Equal(3))
		})
	})

	Describe("ScanAs", func() {
		BeforeEach(func() {
			initialMode = ModeReceipt
		})

		It("selects the mode for this and later scans", func() {
			result, err := coord.ScanAs(ctx, ModeText, imageSource(testImage(4, 4), "", ""), image.Rectangle{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Mode).To(Equal(ModeText))
			Expect(coord.Status().Mode).To(Equal(ModeText))
		})

		It("leaves the mode alone when the session is busy", func() {
			outcome, err := coord.Capture(ctx, imageSource(testImage(4, 4), "", ""))
			Expect(err).NotTo(HaveOccurred())
			Eventually(outcome).Should(Receive())

			_, err = coord.ScanAs(ctx, ModeMath, imageSource(testImage(4, 4), "", ""), image.Rectangle{})
			Expect(errors.Is(err, ErrBusy)).To(BeTrue())
			Expect(coord.Status().Mode).To(Equal(ModeReceipt))
			Expect(factory.count()).To(BeZero())
		})
	})

	Describe("cropping", func() {
		JustBeforeEach(func() {
			outcome, err := coord.Capture(ctx, imageSource(testImage(100, 80), "img/2.png", "Corner Shop"))
			Expect(err).NotTo(HaveOccurred())
			Eventually(outcome).Should(Receive())
		})

		It("returns to idle on cancel", func() {
			Expect(coord.CancelCrop()).To(Succeed())
			Expect(coord.Status().Phase).To(Equal(PhaseIdle))

			_, err := coord.ConfirmCrop(ctx, image.Rectangle{})
			Expect(errors.Is(err, ErrInvalidPhase)).To(BeTrue())
			Expect(primary.calls()).To(BeZero())
		})

		It("recognizes only the cropped region", func() {
			_, err := coord.ConfirmCrop(ctx, image.Rect(10, 10, 60, 30))
			Expect(err).NotTo(HaveOccurred())
			Expect(primary.bounds).To(HaveLen(1))
			Expect(primary.bounds[0].Dx()).To(Equal(50))
			Expect(primary.bounds[0].Dy()).To(Equal(20))
		})

		It("fails a crop outside the image", func() {
			_, err := coord.ConfirmCrop(ctx, image.Rect(500, 500, 600, 600))
			Expect(errors.Is(err, scanning.ErrDecode)).To(BeTrue())
			Expect(coord.Status().Phase).To(Equal(PhaseIdle))
		})

		It("uses the mode selected while cropping", func() {
			primary.rec = &scanning.Recognition{Blocks: []scanning.Block{{Lines: []scanning.Line{{
				Elements: []receipt.Token{
					{Text: "Milk", Box: receipt.Box{Left: 10, Top: 100}},
					{Text: "2.50", Box: receipt.Box{Left: 300, Top: 104}},
				},
			}}}}}
			coord.SelectMode(ModeReceipt)

			result, err := coord.ConfirmCrop(ctx, image.Rectangle{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Mode).To(Equal(ModeReceipt))
			Expect(result.Rows).To(Equal([]receipt.Row{{Item: "Milk", Price: 2.50}}))
			Expect(sink.receipts).To(Equal([]ReceiptRecord{{
				Rows:     []receipt.Row{{Item: "Milk", Price: 2.50}},
				ImageRef: "img/2.png",
				Merchant: "Corner Shop",
			}}))
		})
	})

	Describe("math mode", func() {
		var (
			result *Result
			err    error
		)

		scan := func() {
			red := filledImage(30, 10, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
			result, err = coord.Scan(ctx, imageSource(red, "", ""), image.Rectangle{})
		}

		When("the engine loads", func() {
			BeforeEach(func() {
				factory.proto.text = " 3 x 4 – 1 "
			})

			JustBeforeEach(func() {
				coord.SelectMode(ModeMath)
				scan()
			})

			It("formats the recognized expression", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Mode).To(Equal(ModeMath))
				Expect(result.Text).To(Equal("3×4-1"))
				Expect(primary.calls()).To(BeZero())
			})

			It("feeds the engine a desaturated raster", func() {
				Expect(factory.engines[0].images).To(HaveLen(1))
				r, g, b, _ := factory.engines[0].images[0].At(0, 0).RGBA()
				Expect(r).To(Equal(g))
				Expect(g).To(Equal(b))
			})

			It("saves the expression as a math document", func() {
				Expect(sink.texts).To(Equal([]TextRecord{{Mode: ModeMath, Text: "3×4-1"}}))
			})
		})

		When("the engine returns a blank line", func() {
			BeforeEach(func() {
				factory.proto.text = "   "
			})

			JustBeforeEach(func() {
				coord.SelectMode(ModeMath)
				scan()
			})

			It("falls back to text recognition", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Mode).To(Equal(ModeText))
				Expect(result.Text).To(Equal("Hello world"))
			})
		})

		When("the engine errors at runtime", func() {
			BeforeEach(func() {
				factory.proto.textErr = errors.New("segfault averted")
			})

			JustBeforeEach(func() {
				coord.SelectMode(ModeMath)
				scan()
			})

			It("falls back to text recognition", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Text).To(Equal("Hello world"))
			})
		})

		When("initialization fails", func() {
			BeforeEach(func() {
				factory.proto.loadable = false
			})

			It("reverts to text mode and notifies once", func() {
				coord.SelectMode(ModeMath)
				Eventually(func() Mode { return coord.Status().Mode }).Should(Equal(ModeText))
				Eventually(notices.kinds).Should(Equal([]NoticeKind{NoticeMathUnavailable}))
				Consistently(notices.kinds).Should(HaveLen(1))
				Expect(coord.Status().Engine).To(Equal(scanning.EngineFailed))
			})

			It("does not start a second attempt when Math is selected again", func() {
				coord.SelectMode(ModeMath)
				Eventually(func() Mode { return coord.Status().Mode }).Should(Equal(ModeText))
				coord.SelectMode(ModeMath)
				Expect(factory.count()).To(Equal(1))
			})

			It("can be retried", func() {
				coord.SelectMode(ModeMath)
				Eventually(func() scanning.EngineState { return coord.Status().Engine }).Should(Equal(scanning.EngineFailed))

				factory.mu.Lock()
				factory.proto.loadable = true
				factory.mu.Unlock()
				coord.RetryMath()
				Eventually(func() scanning.EngineState { return coord.Status().Engine }).Should(Equal(scanning.EngineReady))
			})
		})

		When("a math capture arrives while initialization is pending", func() {
			var gate chan struct{}

			BeforeEach(func() {
				gate = make(chan struct{})
				factory.proto.gate = gate
				factory.proto.loadable = false
				initialMode = ModeMath
			})

			It("waits for that attempt and produces the text result", func() {
				done := make(chan struct{})
				go func() {
					defer GinkgoRecover()
					scan()
					close(done)
				}()
				Consistently(done).ShouldNot(BeClosed())

				close(gate)
				Eventually(done).Should(BeClosed())
				Expect(err).NotTo(HaveOccurred())
				mathResult := *result
				Expect(factory.count()).To(Equal(1))

				Eventually(func() Mode { return coord.Status().Mode }).Should(Equal(ModeText))
				scan()
				Expect(err).NotTo(HaveOccurred())
				Expect(mathResult.Text).To(Equal(result.Text))
				Expect(mathResult.Mode).To(Equal(result.Mode))
			})
		})

		When("the user leaves Math before initialization resolves", func() {
			var gate chan struct{}

			BeforeEach(func() {
				gate = make(chan struct{})
				factory.proto.gate = gate
				factory.proto.loadable = false
			})

			It("runs text recognition without waiting", func() {
				coord.SelectMode(ModeMath)
				coord.SelectMode(ModeMath)
				coord.SelectMode(ModeReceipt)
				coord.SelectMode(ModeText)
				Expect(coord.Status().Engine).To(Equal(scanning.EngineInitializing))

				done := make(chan struct{})
				go func() {
					defer GinkgoRecover()
					scan()
					close(done)
				}()
				Eventually(done, time.Second).Should(BeClosed())
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Text).To(Equal("Hello world"))

				close(gate)
				Eventually(func() scanning.EngineState { return coord.Status().Engine }).Should(Equal(scanning.EngineFailed))
				Consistently(notices.kinds).Should(BeEmpty())
				Expect(coord.Status().Mode).To(Equal(ModeText))
				Expect(factory.count()).To(Equal(1))
			})
		})
	})

	Describe("Close", func() {
		It("releases the math engine", func() {
			coord.SelectMode(ModeMath)
			Eventually(func() scanning.EngineState { return coord.Status().Engine }).Should(Equal(scanning.EngineReady))

			Expect(coord.Close()).To(Succeed())
			Expect(factory.engines[0].released).To(BeTrue())
		})

		It("is safe without a math engine and can be repeated", func() {
			Expect(coord.Close()).To(Succeed())
			Expect(coord.Close()).To(Succeed())
		})

		It("rejects captures afterwards", func() {
			Expect(coord.Close()).To(Succeed())
			_, err := coord.Capture(ctx, imageSource(testImage(4, 4), "", ""))
			Expect(err).To(MatchError(ErrClosed))
		})

		It("returns to idle when closed while a capture is being queued", func() {
			var closing *Coordinator
			closing = NewCoordinator(primary, newManager(factory), Options{
				OnTransition: func(from, to Phase) {
					transitions.record(from, to)
					if to == PhaseCapturing {
						// the capture loop is gone before the job is handed over
						Expect(closing.Close()).To(Succeed())
					}
				},
				Logger: discardLogger,
			})
			DeferCleanup(closing.Close)

			_, err := closing.Capture(ctx, imageSource(testImage(4, 4), "", ""))
			Expect(err).To(MatchError(ErrClosed))
			Expect(closing.Status().Phase).To(Equal(PhaseIdle))
			Expect(transitions.get()).To(Equal([][2]Phase{
				{PhaseIdle, PhaseCapturing},
				{PhaseCapturing, PhaseIdle},
			}))
		})
	})
})

// blockingRecognizer holds every recognition until block is closed
type blockingRecognizer struct {
	*fakeRecognizer
	block chan struct{}
}

func (b *blockingRecognizer) Recognize(ctx context.Context, img image.Image) (*scanning.Recognition, error) {
	<-b.block
	return b.fakeRecognizer.Recognize(ctx, img)
}
