// Command scanconvert converts captured room scans between the JSON
// interchange document and flat CSV. The JSON side carries scan context
// (scan count, timestamp, filter distance); CSV carries points only, so a
// csv-to-json conversion synthesises a fresh document around the points.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lidarworks/roommapper/internal/mapper"
)

var (
	inPath  = flag.String("in", "", "Input file ('-' or empty for stdin)")
	outPath = flag.String("out", "", "Output file ('-' or empty for stdout)")
	format  = flag.String("format", "", "Output format: json or csv (default: inferred from -out extension, else the opposite of the input)")
)

func openIn() (io.ReadCloser, string, error) {
	if *inPath == "" || *inPath == "-" {
		return os.Stdin, "", nil
	}
	f, err := os.Open(*inPath)
	return f, strings.ToLower(filepath.Ext(*inPath)), err
}

func openOut() (io.WriteCloser, string, error) {
	if *outPath == "" || *outPath == "-" {
		return os.Stdout, "", nil
	}
	f, err := os.Create(*outPath)
	return f, strings.ToLower(filepath.Ext(*outPath)), err
}

// read decodes the input as JSON first and falls back to CSV, unless the
// file extension already settles it.
func read(r io.Reader, ext string) (mapper.ScanDocument, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return mapper.ScanDocument{}, "", err
	}

	tryJSON := ext != ".csv"
	if tryJSON {
		doc, jerr := mapper.ImportJSON(strings.NewReader(string(data)))
		if jerr == nil {
			return doc, "json", nil
		}
		if ext == ".json" {
			return mapper.ScanDocument{}, "", jerr
		}
	}

	points, cerr := mapper.ImportCSV(strings.NewReader(string(data)))
	if cerr != nil {
		return mapper.ScanDocument{}, "", cerr
	}
	return mapper.ScanDocument{Points: points}, "csv", nil
}

func main() {
	flag.Parse()

	in, inExt, err := openIn()
	if err != nil {
		log.Fatalf("failed to open input: %v", err)
	}
	defer in.Close()

	doc, inFormat, err := read(in, inExt)
	if err != nil {
		log.Fatalf("failed to read scan: %v", err)
	}

	out, outExt, err := openOut()
	if err != nil {
		log.Fatalf("failed to open output: %v", err)
	}
	defer out.Close()

	outFormat := *format
	if outFormat == "" && outExt != "" {
		outFormat = strings.TrimPrefix(outExt, ".")
	}
	if outFormat == "" {
		// Round-tripping to the same format is pointless; flip it.
		if inFormat == "json" {
			outFormat = "csv"
		} else {
			outFormat = "json"
		}
	}

	switch outFormat {
	case "json":
		if doc.Timestamp.IsZero() {
			doc.Timestamp = time.Now().UTC()
		}
		if doc.FilterDistance == 0 {
			doc.FilterDistance = mapper.DefaultFilterConfig().MaxDistanceMM
		}
		err = mapper.ExportJSON(out, doc)
	case "csv":
		err = mapper.ExportCSV(out, doc.Points)
	default:
		err = fmt.Errorf("unknown format %q", outFormat)
	}
	if err != nil {
		log.Fatalf("failed to write scan: %v", err)
	}

	fmt.Fprintf(os.Stderr, "converted %d points (%s -> %s)\n", len(doc.Points), inFormat, outFormat)
}
