// Package fileutil holds the small file helpers shared by the download,
// registration and job-submission stages.
package fileutil

import (
    "bufio"
    "bytes"
    "crypto/md5"
    "encoding/hex"
    "errors"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "regexp"

    "github.com/grailbio/bio/encoding/fastq"
    "github.com/klauspost/compress/gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

// IsGzipped reports whether the file starts with the gzip magic number. Bam
// files are block-gzipped but are modelled as uncompressed.
func IsGzipped(path string) (bool, error) {
    if filepath.Ext(path) == ".bam" { return false, nil }
    f, err := os.Open(path)
    if err != nil { return false, err }
    defer f.Close()
    head := make([]byte, 2)
    n, err := io.ReadFull(f, head)
    if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) { return false, nil }
    if err != nil { return false, err }
    return n == 2 && bytes.Equal(head, gzipMagic), nil
}

type readCloser struct {
    io.Reader
    closers []io.Closer
}

func (r readCloser) Close() error {
    var errs []error
    for i := len(r.closers) - 1; i >= 0; i-- {
        errs = append(errs, r.closers[i].Close())
    }
    return errors.Join(errs...)
}

// Open returns a reader over the file contents, decompressing gzip data.
func Open(path string) (io.ReadCloser, error) {
    zipped, err := IsGzipped(path)
    if err != nil { return nil, err }
    f, err := os.Open(path)
    if err != nil { return nil, err }
    if !zipped { return f, nil }
    zr, err := gzip.NewReader(bufio.NewReader(f))
    if err != nil {
        f.Close()
        return nil, fmt.Errorf("gzip %s: %w", path, err)
    }
    return readCloser{Reader: zr, closers: []io.Closer{f, zr}}, nil
}

// Checksum returns the hex MD5 of the file's uncompressed contents, so that
// recompressing a file does not change its recorded checksum.
func Checksum(path string) (string, error) {
    r, err := Open(path)
    if err != nil { return "", err }
    defer r.Close()
    return checksumReader(r)
}

// RawChecksum returns the hex MD5 of the bytes on disk.
func RawChecksum(path string) (string, error) {
    f, err := os.Open(path)
    if err != nil { return "", err }
    defer f.Close()
    return checksumReader(f)
}

func checksumReader(r io.Reader) (string, error) {
    h := md5.New()
    if _, err := io.Copy(h, r); err != nil { return "", err }
    return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadLength guesses the read length of a fastq file from its first record.
func ReadLength(path string) (int, error) {
    r, err := Open(path)
    if err != nil { return 0, err }
    defer r.Close()
    sc := fastq.NewScanner(r, fastq.Seq)
    var read fastq.Read
    if !sc.Scan(&read) {
        if err := sc.Err(); err != nil { return 0, fmt.Errorf("read length of %s: %w", path, err) }
        return 0, fmt.Errorf("read length of %s: no reads", path)
    }
    return len(read.Seq), nil
}

// Size returns the size of the file on disk.
func Size(path string) (int64, error) {
    st, err := os.Stat(path)
    if err != nil { return 0, err }
    return st.Size(), nil
}

// MoveFile renames src to dst, creating dst's directory. It falls back to
// copy and remove when the rename crosses filesystems.
func MoveFile(src, dst string) error {
    if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil { return err }
    if err := os.Rename(src, dst); err == nil { return nil }
    in, err := os.Open(src)
    if err != nil { return err }
    defer in.Close()
    out, err := os.Create(dst + ".part")
    if err != nil { return err }
    if _, err := io.Copy(out, in); err != nil {
        out.Close()
        return err
    }
    if err := out.Close(); err != nil { return err }
    if err := os.Rename(dst+".part", dst); err != nil { return err }
    return os.Remove(src)
}

var (
    bashUnsafeRe = regexp.MustCompile(`[^-+0-9a-zA-Z_,./\n]`)
    sampleRe     = regexp.MustCompile(`[ \\/()"*:;&|<>]+`)
)

// BashQuote backslash-escapes characters that are not safe in a shell word.
func BashQuote(s string) string {
    return bashUnsafeRe.ReplaceAllStringFunc(s, func(c string) string { return `\` + c })
}

// SanitizeSampleName replaces runs of characters that break read groups and
// filenames with a single underscore.
func SanitizeSampleName(s string) string {
    return sampleRe.ReplaceAllString(s, "_")
}
