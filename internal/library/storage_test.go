package library

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = filepath.Join(GinkgoT().TempDir(), "images")
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the storage directory", func() {
		Expect(tmpDir).To(BeADirectory())
	})

	Describe("Save", func() {
		var (
			savedPath string
			err       error
		)

		JustBeforeEach(func() {
			savedPath, err = storage.Save("abc_scan.png", []byte("png bytes"))
		})

		It("returns the relative path", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(savedPath).To(Equal("abc_scan.png"))
		})

		It("writes the image under the root", func() {
			Expect(filepath.Join(tmpDir, "abc_scan.png")).To(BeAnExistingFile())
		})

		It("can be read back", func() {
			data, getErr := storage.Get(savedPath)
			Expect(getErr).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("png bytes"))
		})

		It("can be deleted", func() {
			Expect(storage.Delete(savedPath)).To(Succeed())
			Expect(filepath.Join(tmpDir, "abc_scan.png")).NotTo(BeAnExistingFile())

			_, getErr := storage.Get(savedPath)
			Expect(getErr).To(MatchError(ContainSubstring("reading file")))
		})
	})

	When("the image does not exist", func() {
		It("fails to read it", func() {
			_, err := storage.Get("missing.png")
			Expect(err).To(MatchError(ContainSubstring("reading file")))
		})

		It("fails to delete it", func() {
			err := storage.Delete("missing.png")
			Expect(err).To(MatchError(ContainSubstring("deleting file")))
		})
	})

	DescribeTable("paths outside the root are refused",
		func(path string) {
			_, err := storage.Save(path, []byte("x"))
			Expect(err).To(MatchError(ContainSubstring("invalid storage path")))
			_, err = storage.Get(path)
			Expect(err).To(MatchError(ContainSubstring("invalid storage path")))
			Expect(storage.Delete(path)).To(MatchError(ContainSubstring("invalid storage path")))
		},
		Entry("parent directory", "../escape.png"),
		Entry("nested parent directory", "a/../../escape.png"),
		Entry("absolute path", "/etc/passwd"),
		Entry("empty path", ""),
	)
})
