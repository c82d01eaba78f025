package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/maauso/audiobook-forge/internal/audio"
	"github.com/maauso/audiobook-forge/internal/bootstrap"
	"github.com/maauso/audiobook-forge/internal/pipeline"
)

var errNoChapterID = errors.New("manifest has no chapterId and --chapter is not set")

// manifest lists a chapter's segments, as JSON or YAML.
type manifest struct {
	ChapterID string          `json:"chapterId" yaml:"chapterId"`
	Segments  []audio.Segment `json:"segments" yaml:"segments"`
}

func readManifest(path string) (manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied manifest path
	if err != nil {
		return manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

func newAssembleCommand(a *app) *cobra.Command {
	var chapterID string
	cmd := &cobra.Command{
		Use:     "assemble <manifest>",
		Short:   "Rebuild a chapter file from a segment manifest",
		Example: "forgectl assemble chapters/ch-01.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := readManifest(args[0])
			if err != nil {
				return err
			}
			if chapterID != "" {
				m.ChapterID = chapterID
			}
			if m.ChapterID == "" {
				return errNoChapterID
			}

			cfg, err := a.config()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			deps, err := bootstrap.NewDependencies(ctx, cfg, a.logger)
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close(context.Background()) }()

			errOut := cmd.ErrOrStderr()
			artifact, err := deps.Pipeline.AssembleChapter(ctx, pipeline.ChapterRequest{
				ChapterID: m.ChapterID,
				Segments:  m.Segments,
			}, func(p pipeline.Progress) {
				_, _ = fmt.Fprintf(errOut, "%3d%% %s\n", p.Percent, p.Stage)
			})
			if missing, ok := audio.AsMissingSegments(err); ok {
				for _, s := range missing.Missing {
					_, _ = fmt.Fprintf(errOut, "missing: %s %s\n", s.SegmentID, s.Path)
				}
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(artifact)
		},
	}
	cmd.Flags().StringVar(&chapterID, "chapter", "", "chapter id, overrides the manifest")
	return cmd
}
