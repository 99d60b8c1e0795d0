package caseview

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/helium"
)

// begin returns the case guid and generation a command runs under.
func (s *Session) begin() (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", 0, ErrSessionClosed
	}
	return s.state.Case.GUID, s.generation, nil
}

func (s *Session) fail(action string, err error) error {
	s.metrics.RecordActionFailure(action)
	s.logger.Printf("%s failed: %v", action, err)
	return &ActionError{Action: action, Err: err}
}

func (s *Session) checkMenu(action string, cmd Command, collectionGUID, analyzer string) error {
	s.mu.Lock()
	items := s.state.AnalysisMenu(collectionGUID, analyzer)
	s.mu.Unlock()
	if !Allowed(items, cmd) {
		return s.fail(action, ErrCommandNotAllowed)
	}
	return nil
}

// OpenCollection opens a collection tab and loads its authoritative analysis list.
func (s *Session) OpenCollection(ctx context.Context, collectionGUID string) error {
	caseGUID, gen, err := s.begin()
	if err != nil {
		return err
	}
	s.mutate(gen, func(st State) (State, []Effect) { return OpenTab(st, collectionGUID) })
	return s.loadAnalyses(ctx, "open collection", caseGUID, collectionGUID, gen)
}

// RefreshAnalyses reloads the analyses of a collection.
func (s *Session) RefreshAnalyses(ctx context.Context, collectionGUID string) error {
	caseGUID, gen, err := s.begin()
	if err != nil {
		return err
	}
	return s.loadAnalyses(ctx, "refresh analyses", caseGUID, collectionGUID, gen)
}

func (s *Session) loadAnalyses(ctx context.Context, action, caseGUID, collectionGUID string, gen uint64) error {
	analyses, err := s.backend.GetCollectionAnalyses(ctx, caseGUID, collectionGUID)
	if err != nil {
		return s.fail(action, err)
	}
	s.mutate(gen, func(st State) (State, []Effect) {
		return SetAnalyses(st, collectionGUID, analyses), []Effect{render()}
	})
	return nil
}

// SelectTab focuses an open tab.
func (s *Session) SelectTab(collectionGUID string) {
	if _, gen, err := s.begin(); err == nil {
		s.mutate(gen, func(st State) (State, []Effect) { return SelectTab(st, collectionGUID) })
	}
}

// CloseTab closes the tab at index.
func (s *Session) CloseTab(index int) {
	if _, gen, err := s.begin(); err == nil {
		s.mutate(gen, func(st State) (State, []Effect) { return CloseTab(st, index) })
	}
}

// RefreshCollections reloads the collection list.
func (s *Session) RefreshCollections(ctx context.Context) error {
	caseGUID, gen, err := s.begin()
	if err != nil {
		return err
	}
	collections, err := s.backend.GetCaseCollections(ctx, caseGUID)
	if err != nil {
		return s.fail("refresh collections", err)
	}
	s.mutate(gen, func(st State) (State, []Effect) { return SetCollections(st, collections), []Effect{render()} })
	return nil
}

// StartAnalysis starts an analyzer that has never run on a collection.
func (s *Session) StartAnalysis(ctx context.Context, collectionGUID, analyzer string) error {
	const action = "start analysis"
	caseGUID, gen, err := s.begin()
	if err != nil {
		return err
	}
	if err := s.checkMenu(action, CommandStart, collectionGUID, analyzer); err != nil {
		return err
	}
	a, err := s.backend.PostCollectionAnalysis(ctx, caseGUID, collectionGUID, helium.CollectionAnalysis{Analyzer: analyzer})
	if err != nil {
		return s.fail(action, err)
	}
	s.mutate(gen, func(st State) (State, []Effect) { return SetAnalysis(st, collectionGUID, a), []Effect{render()} })
	return nil
}

// RestartAnalysis reruns a finished analysis.
func (s *Session) RestartAnalysis(ctx context.Context, collectionGUID, analyzer string) error {
	const action = "restart analysis"
	caseGUID, gen, err := s.begin()
	if err != nil {
		return err
	}
	if err := s.checkMenu(action, CommandRestart, collectionGUID, analyzer); err != nil {
		return err
	}
	a, err := s.backend.PutCollectionAnalysis(ctx, caseGUID, collectionGUID, analyzer)
	if err != nil {
		return s.fail(action, err)
	}
	s.mutate(gen, func(st State) (State, []Effect) { return SetAnalysis(st, collectionGUID, a), []Effect{render()} })
	return nil
}

// DeleteAnalysis deletes a finished analysis and reloads the collection's analyses.
func (s *Session) DeleteAnalysis(ctx context.Context, collectionGUID, analyzer string) error {
	const action = "delete analysis"
	caseGUID, gen, err := s.begin()
	if err != nil {
		return err
	}
	if err := s.checkMenu(action, CommandDelete, collectionGUID, analyzer); err != nil {
		return err
	}
	if err := s.backend.DeleteCollectionAnalysis(ctx, caseGUID, collectionGUID, analyzer); err != nil {
		return s.fail(action, err)
	}
	return s.loadAnalyses(ctx, action, caseGUID, collectionGUID, gen)
}

// AnalysisLog returns the log of an analysis.
func (s *Session) AnalysisLog(ctx context.Context, collectionGUID, analyzer string) (string, error) {
	const action = "view logs"
	caseGUID, _, err := s.begin()
	if err != nil {
		return "", err
	}
	if err := s.checkMenu(action, CommandLogs, collectionGUID, analyzer); err != nil {
		return "", err
	}
	content, err := s.backend.GetCollectionAnalysisLog(ctx, caseGUID, collectionGUID, analyzer)
	if err != nil {
		return "", s.fail(action, err)
	}
	return content, nil
}

// DownloadAnalysis writes the result archive of a successful analysis to w.
func (s *Session) DownloadAnalysis(ctx context.Context, collectionGUID, analyzer string, w io.Writer) (string, error) {
	const action = "download analysis"
	caseGUID, _, err := s.begin()
	if err != nil {
		return "", err
	}
	if err := s.checkMenu(action, CommandDownload, collectionGUID, analyzer); err != nil {
		return "", err
	}
	name, err := s.backend.DownloadCollectionAnalysis(ctx, caseGUID, collectionGUID, analyzer, w)
	if err != nil {
		return "", s.fail(action, err)
	}
	return name, nil
}

// Run dispatches an analysis menu command. w receives downloads and logs.
func (s *Session) Run(ctx context.Context, cmd Command, collectionGUID, analyzer string, w io.Writer) error {
	switch cmd {
	case CommandStart:
		return s.StartAnalysis(ctx, collectionGUID, analyzer)
	case CommandRestart:
		return s.RestartAnalysis(ctx, collectionGUID, analyzer)
	case CommandDelete:
		return s.DeleteAnalysis(ctx, collectionGUID, analyzer)
	case CommandLogs:
		content, err := s.AnalysisLog(ctx, collectionGUID, analyzer)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, content)
		return err
	case CommandDownload:
		_, err := s.DownloadAnalysis(ctx, collectionGUID, analyzer, w)
		return err
	}
	return s.fail(string(cmd), fmt.Errorf("unknown command %q", cmd))
}

// UpdateCase submits an edit of the case metadata.
func (s *Session) UpdateCase(ctx context.Context, patch helium.CasePatch) error {
	return s.putCase(ctx, "update case", patch)
}

// CloseCase marks the case closed now.
func (s *Session) CloseCase(ctx context.Context) error {
	closed := time.Now().UTC().Format(time.RFC3339)
	return s.putCase(ctx, "close case", helium.CasePatch{Closed: &closed})
}

// ReopenCase clears the close timestamp.
func (s *Session) ReopenCase(ctx context.Context) error {
	open := ""
	return s.putCase(ctx, "reopen case", helium.CasePatch{Closed: &open})
}

func (s *Session) putCase(ctx context.Context, action string, patch helium.CasePatch) error {
	caseGUID, gen, err := s.begin()
	if err != nil {
		return err
	}
	meta, err := s.backend.PutCase(ctx, caseGUID, patch)
	if err != nil {
		return s.fail(action, err)
	}
	s.mutate(gen, func(st State) (State, []Effect) { return SetCase(st, meta), []Effect{render()} })
	return nil
}

// DeleteCase deletes the case. The view closes on the resulting delete_case event.
func (s *Session) DeleteCase(ctx context.Context) error {
	caseGUID, _, err := s.begin()
	if err != nil {
		return err
	}
	if err := s.backend.DeleteCase(ctx, caseGUID); err != nil {
		return s.fail("delete case", err)
	}
	return nil
}

// CreateCollector creates a collector for the case.
func (s *Session) CreateCollector(ctx context.Context, c helium.Collector) (helium.Collector, error) {
	return s.addCollector(ctx, "create collector", c, s.backend.PostCaseCollector)
}

// ImportCollector imports an existing collector into the case.
func (s *Session) ImportCollector(ctx context.Context, c helium.Collector) (helium.Collector, error) {
	return s.addCollector(ctx, "import collector", c, s.backend.ImportCaseCollector)
}

func (s *Session) addCollector(ctx context.Context, action string, c helium.Collector,
	call func(context.Context, string, helium.Collector) (helium.Collector, error)) (helium.Collector, error) {
	caseGUID, gen, err := s.begin()
	if err != nil {
		return helium.Collector{}, err
	}
	created, err := call(ctx, caseGUID, c)
	if err != nil {
		return helium.Collector{}, s.fail(action, err)
	}
	if created.GUID != "" {
		s.mutate(gen, func(st State) (State, []Effect) { return AddCollector(st, created), []Effect{render()} })
	}
	return created, nil
}

// DeleteCollector deletes a collector. The list follows the delete_collector event.
func (s *Session) DeleteCollector(ctx context.Context, collectorGUID string) error {
	caseGUID, _, err := s.begin()
	if err != nil {
		return err
	}
	if err := s.backend.DeleteCollector(ctx, caseGUID, collectorGUID); err != nil {
		return s.fail("delete collector", err)
	}
	return nil
}

// DownloadCollector writes the collector package to w.
func (s *Session) DownloadCollector(ctx context.Context, collectorGUID string, w io.Writer) (string, error) {
	caseGUID, _, err := s.begin()
	if err != nil {
		return "", err
	}
	name, err := s.backend.DownloadCollector(ctx, caseGUID, collectorGUID, w)
	if err != nil {
		return "", s.fail("download collector", err)
	}
	return name, nil
}

// UploadCollection uploads an archive as a new collection of the case.
func (s *Session) UploadCollection(ctx context.Context, path string, progress helium.ProgressFunc) (helium.Collection, error) {
	const action = "upload collection"
	caseGUID, gen, err := s.begin()
	if err != nil {
		return helium.Collection{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return helium.Collection{}, s.fail(action, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return helium.Collection{}, s.fail(action, err)
	}
	c, err := s.backend.PostCaseCollection(ctx, caseGUID, filepath.Base(path), f, info.Size(), progress)
	if err != nil {
		return helium.Collection{}, s.fail(action, err)
	}
	if c.GUID != "" {
		s.mutate(gen, func(st State) (State, []Effect) { return ReplaceCollection(st, c), []Effect{render()} })
	}
	return c, nil
}

// EditCollection submits collection metadata edits.
func (s *Session) EditCollection(ctx context.Context, c helium.Collection) error {
	caseGUID, gen, err := s.begin()
	if err != nil {
		return err
	}
	updated, err := s.backend.PutCaseCollection(ctx, caseGUID, c)
	if err != nil {
		return s.fail("edit collection", err)
	}
	if updated.GUID != "" {
		s.mutate(gen, func(st State) (State, []Effect) { return ReplaceCollection(st, updated), []Effect{render()} })
	}
	return nil
}

// DeleteCollection deletes a collection. Tabs follow the delete_collection event.
func (s *Session) DeleteCollection(ctx context.Context, collectionGUID string) error {
	caseGUID, _, err := s.begin()
	if err != nil {
		return err
	}
	if err := s.backend.DeleteCollection(ctx, caseGUID, collectionGUID); err != nil {
		return s.fail("delete collection", err)
	}
	return nil
}

// DownloadCollection writes the collection archive to w.
func (s *Session) DownloadCollection(ctx context.Context, collectionGUID string, w io.Writer) (string, error) {
	caseGUID, _, err := s.begin()
	if err != nil {
		return "", err
	}
	name, err := s.backend.DownloadCollection(ctx, caseGUID, collectionGUID, w)
	if err != nil {
		return "", s.fail("download collection", err)
	}
	return name, nil
}

// RemoveCache frees the server-side cache of a collection, including decrypted data.
func (s *Session) RemoveCache(ctx context.Context, collectionGUID string) error {
	caseGUID, gen, err := s.begin()
	if err != nil {
		return err
	}
	if err := s.backend.RemoveCache(ctx, caseGUID, collectionGUID); err != nil {
		return s.fail("remove cache", err)
	}
	s.mutate(gen, func(st State) (State, []Effect) {
		return st, []Effect{toast(SeveritySuccess, "Success", "Cache removed")}
	})
	return nil
}
