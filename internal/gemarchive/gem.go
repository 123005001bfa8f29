// Package gemarchive reads .gem archives: an uncompressed ustar container
// holding metadata.gz (a gzipped YAML document) and data.tar.gz (the
// gzipped payload tar). Extraction streams — nothing buffers a whole
// archive — and enforces the path-safety contract in extract.go.
package gemarchive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

const (
	metadataEntry = "metadata.gz"
	metadataPlain = "metadata"
	dataEntry     = "data.tar.gz"
)

// ReadMetadata pulls and decompresses the metadata document without
// touching the payload.
func ReadMetadata(gemPath string) ([]byte, error) {
	file, err := os.Open(gemPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	tr := tar.NewReader(file)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed gem archive %s: %w", gemPath, err)
		}

		switch header.Name {
		case metadataEntry:
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, err
			}
			return gunzip(buf)
		case metadataPlain:
			return io.ReadAll(tr)
		}
	}

	return nil, fmt.Errorf("metadata not found in %s", gemPath)
}

// ExtractGem unpacks the payload of a .gem file into destDir and returns
// the metadata document. The payload is streamed straight from the outer
// reader through gzip into the extractor.
func ExtractGem(gemPath, destDir string, opts ExtractOptions) ([]byte, error) {
	file, err := os.Open(gemPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	tr := tar.NewReader(file)
	var dataFound bool
	var metadata []byte

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed gem archive %s: %w", gemPath, err)
		}

		switch header.Name {
		case dataEntry:
			dataFound = true
			if err := ExtractTarGz(tr, destDir, opts); err != nil {
				return nil, fmt.Errorf("extracting %s: %w", gemPath, err)
			}
		case metadataEntry:
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, err
			}
			meta, err := gunzip(buf)
			if err != nil {
				return nil, err
			}
			metadata = meta
		case metadataPlain:
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, err
			}
			metadata = buf
		case "data.tar.zst", "data.tar.bz2", "data.tar.xz":
			return nil, fmt.Errorf("unsupported gem payload compression (%s)", header.Name)
		}
	}

	if !dataFound {
		return nil, fmt.Errorf("%s not found in %s", dataEntry, gemPath)
	}
	if metadata == nil {
		return nil, fmt.Errorf("metadata not found in %s", gemPath)
	}

	return metadata, nil
}

// StreamEntry copies one named entry of the outer archive to w without
// materialising anything else.
func StreamEntry(gemPath, entryName string, w io.Writer) error {
	file, err := os.Open(gemPath)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	tr := tar.NewReader(file)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("malformed gem archive %s: %w", gemPath, err)
		}
		if header.Name == entryName {
			_, err := io.Copy(w, tr)
			return err
		}
	}

	return fmt.Errorf("entry %s not found in %s", entryName, gemPath)
}

func gunzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress metadata: %w", err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}
