package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/loopholelabs/logging"
	"github.com/loopholelabs/logging/types"

	"github.com/Sirherobrine23/subio/phar"
)

var (
	pharFilePath  = flag.String("file", "", "File path")
	extractPath   = flag.String("extract", "", "Folder to extract files")
	overwriteName = flag.String("overwrite", "", "Entry to replace in place")
	contentPath   = flag.String("content", "", "File with the replacement content for -overwrite")
	verbose       = flag.Bool("verbose", false, "Debug logging")
)

func main() {
	flag.Parse()

	log := logging.New(logging.Zerolog, "phar", os.Stderr)
	log.SetLevel(types.InfoLevel)
	if *verbose {
		log.SetLevel(types.DebugLevel)
	}

	flags := os.O_RDONLY
	if *overwriteName != "" {
		flags = os.O_RDWR
	}
	file, err := os.OpenFile(*pharFilePath, flags, 0)
	if err != nil {
		log.Error().Err(err).Str("file", *pharFilePath).Msg("cannot open file")
		os.Exit(1)
	}
	defer file.Close()

	pharInfo, err := phar.NewReaderFromFile(file)
	if err != nil {
		log.Error().Err(err).Str("file", *pharFilePath).Msg("cannot parse file")
		os.Exit(1)
	}
	log.Debug().
		Str("file", *pharFilePath).
		Str("version", pharInfo.Manifest.Version).
		Int("entries", len(pharInfo.Files)).
		Msg("archive parsed")

	switch {
	case *overwriteName != "":
		if err := overwrite(log, file, pharInfo); err != nil {
			log.Error().Err(err).Str("entry", *overwriteName).Msg("cannot overwrite entry")
			os.Exit(1)
		}
	case *extractPath != "":
		if err := extract(log, pharInfo); err != nil {
			log.Error().Err(err).Str("dir", *extractPath).Msg("cannot extract archive")
			os.Exit(1)
		}
	default:
		d, _ := json.MarshalIndent(pharInfo, "", "  ")
		fmt.Fprintf(os.Stdout, "%s\n", d)
	}
}

func overwrite(log types.Logger, file *os.File, pharInfo *phar.Phar) error {
	content, err := os.ReadFile(*contentPath)
	if err != nil {
		return err
	}
	if err := pharInfo.Overwrite(file, *overwriteName, content); err != nil {
		return err
	}
	log.Info().
		Str("entry", *overwriteName).
		Int("bytes", len(content)).
		Msg("entry overwritten")
	return nil
}

func extract(log types.Logger, pharInfo *phar.Phar) error {
	for _, file := range pharInfo.Files {
		pathSave, err := file.ExtractPath(*extractPath)
		if err != nil {
			return err
		}
		if err := extractFile(file, pathSave); err != nil {
			return fmt.Errorf("%s: %w", file.Filename, err)
		}
		log.Info().
			Str("entry", file.Filename).
			Str("path", pathSave).
			Int64("size", file.SizeUncompressed).
			Msg("extracted")
	}
	return nil
}

func extractFile(file *phar.File, pathSave string) error {
	f, err := file.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(filepath.Dir(pathSave), 0755); err != nil {
		return err
	}

	w, err := os.OpenFile(pathSave, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, file.Mode()|0200)
	if err != nil {
		return err
	}
	defer w.Close()

	if _, err = io.Copy(w, f); err != nil {
		return err
	}
	return w.Close()
}
