package flowcell

import (
    "bufio"
    "fmt"
    "os"
    "sort"
    "strings"

    "github.com/grailbio/bio/encoding/fastq"
    "github.com/klauspost/compress/gzip"

    "github.com/odomlab/odom-data-processing/internal/fileutil"
)

// Undetermined receives reads whose barcode matches no library.
const Undetermined = "undetermined"

// Demuxer splits a multiplexed fastq file by the index sequence at the end
// of each read header ("@id 1:N:0:ACGTAC").
type Demuxer struct {
    Mismatches int
}

type demuxOut struct {
    f  *os.File
    zw *gzip.Writer
    bw *bufio.Writer
    fw *fastq.Writer
}

func normaliseBarcode(s string) string {
    return strings.ToUpper(strings.NewReplacer("-", "", "+", "").Replace(strings.TrimSpace(s)))
}

func readBarcode(id string) string {
    _, comment, ok := strings.Cut(id, " ")
    if !ok { return "" }
    i := strings.LastIndexByte(comment, ':')
    return normaliseBarcode(comment[i+1:])
}

func mismatches(a, b string) int {
    if len(a) != len(b) { return len(a) + len(b) }
    n := 0
    for i := 0; i < len(a); i++ {
        if a[i] != b[i] { n++ }
    }
    return n
}

// match returns the single library whose barcode is closest to seq within
// the mismatch budget; ties are undetermined.
func (d Demuxer) match(seq string, barcodes map[string]string) string {
    best, bestN, tied := "", d.Mismatches+1, false
    for code, bc := range barcodes {
        n := mismatches(seq, bc)
        switch {
        case n < bestN:
            best, bestN, tied = code, n, false
        case n == bestN:
            tied = true
        }
    }
    if best == "" || tied { return Undetermined }
    return best
}

// Split writes each read of src to the gzipped file outPath(code) of the
// library whose barcode it carries, and returns the files written by code
// and the read count per code. Files appear only once complete.
func (d Demuxer) Split(src string, barcodes map[string]string, outPath func(code string) string) (map[string]string, map[string]int, error) {
    norm := make(map[string]string, len(barcodes))
    for code, bc := range barcodes {
        if bc == "" { return nil, nil, fmt.Errorf("demultiplex %s: library %s has no barcode", src, code) }
        norm[code] = normaliseBarcode(bc)
    }
    in, err := fileutil.Open(src)
    if err != nil { return nil, nil, err }
    defer in.Close()

    outs := map[string]*demuxOut{}
    cleanup := func() {
        for _, o := range outs {
            o.f.Close()
            os.Remove(o.f.Name())
        }
    }
    counts := map[string]int{}
    sc := fastq.NewScanner(in, fastq.All)
    var read fastq.Read
    for sc.Scan(&read) {
        code := d.match(readBarcode(read.ID), norm)
        o, ok := outs[code]
        if !ok {
            f, err := os.Create(outPath(code) + ".part")
            if err != nil {
                cleanup()
                return nil, nil, err
            }
            zw := gzip.NewWriter(f)
            bw := bufio.NewWriter(zw)
            o = &demuxOut{f: f, zw: zw, bw: bw, fw: fastq.NewWriter(bw)}
            outs[code] = o
        }
        if err := o.fw.Write(&read); err != nil {
            cleanup()
            return nil, nil, fmt.Errorf("demultiplex %s: %w", src, err)
        }
        counts[code]++
    }
    if err := sc.Err(); err != nil {
        cleanup()
        return nil, nil, fmt.Errorf("demultiplex %s: %w", src, err)
    }

    codes := make([]string, 0, len(outs))
    for code := range outs {
        codes = append(codes, code)
    }
    sort.Strings(codes)
    written := map[string]string{}
    for _, code := range codes {
        o := outs[code]
        err := o.bw.Flush()
        if err == nil { err = o.zw.Close() }
        if cerr := o.f.Close(); err == nil { err = cerr }
        if err == nil { err = os.Rename(o.f.Name(), outPath(code)) }
        if err != nil {
            cleanup()
            return nil, nil, fmt.Errorf("demultiplex %s: %w", src, err)
        }
        written[code] = outPath(code)
    }
    return written, counts, nil
}
