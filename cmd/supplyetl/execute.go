package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"supplyetl/internal/config"
	"supplyetl/internal/datasource"
	"supplyetl/internal/datasource/file"
	"supplyetl/internal/datasource/httpds"
	"supplyetl/internal/parser/csv"
	"supplyetl/internal/pipeline"
	"supplyetl/internal/storage"
	"supplyetl/internal/vocab"
)

// execute wires source, reader, sink and vocabularies for p and runs once.
func execute(ctx context.Context, p config.Pipeline) (pipeline.Stats, error) {
	src, where, err := newSource(p.Source)
	if err != nil {
		return pipeline.Stats{}, err
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("source: %w", err)
	}
	r, err := csv.NewReader(rc, p.Parser.Options)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("source %s: %w", where, err)
	}
	defer r.Close()
	log.Printf("reader: source=%s columns=%d", where, len(r.Header()))

	sink, err := storage.New(storage.FromPipeline(p))
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("destination: %w", err)
	}

	vocabs := vocab.NewSet()
	stats, err := pipeline.New(p, r, sink, vocabs).Run(ctx)
	if err != nil {
		return stats, err
	}

	if p.Vocabulary.Path != "" {
		if err := saveVocabulary(p.Vocabulary.Path, vocabs); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// newSource returns the Source for s and a label for logs.
func newSource(s config.Source) (datasource.Source, string, error) {
	switch s.Kind {
	case "file":
		return file.NewLocal(s.File.Path), s.File.Path, nil
	case "http":
		h := make(http.Header, len(s.HTTP.Headers))
		for k, v := range s.HTTP.Headers {
			h.Set(k, v)
		}
		return httpds.New(httpds.Config{
			URL:           s.HTTP.URL,
			Headers:       h,
			MaxRetries:    s.HTTP.MaxRetries,
			HeaderTimeout: time.Duration(s.HTTP.TimeoutSeconds) * time.Second,
		}), s.HTTP.URL, nil
	default:
		return nil, "", fmt.Errorf("source: unsupported kind %q", s.Kind)
	}
}

func saveVocabulary(path string, vocabs *vocab.Set) error {
	st, err := vocab.Open(path)
	if err != nil {
		return err
	}
	if err := st.Save(vocabs); err != nil {
		st.Close()
		return fmt.Errorf("save vocabulary: %w", err)
	}
	if err := st.Close(); err != nil {
		return fmt.Errorf("close vocabulary: %w", err)
	}
	log.Printf("vocab: saved path=%s columns=%d codes=%d", path, len(vocabs.Columns()), vocabs.Size())
	return nil
}
