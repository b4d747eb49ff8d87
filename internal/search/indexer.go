// indexer.go keeps the vector index in step with datastore summaries.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/skyhub/skyhub-go/internal/datastore"
)

// UpsertSourceSummary rebuilds the index entry for one obj: it assembles the
// summary document, embeds it and replaces the obj's vector together with
// its redshift and classification metadata. Call it whenever a source
// summary changes.
func (s *Service) UpsertSourceSummary(ctx context.Context, objID string) error {
	obj, err := s.ds.GetObj(objID)
	if err != nil {
		return err
	}
	classifications, err := s.ds.GetAllObjClassifications(objID)
	if err != nil {
		return err
	}

	document := s.summaryDocument(ctx, &obj, classifications)

	vector, err := s.embedder.Embed(ctx, document)
	if err != nil {
		s.recordIndexUpsert(statusError)
		return err
	}

	rec := indexRecord{
		ObjID:     obj.ID,
		Embedding: vector,
		Redshift:  unknownRedshift,
		Class:     latestClassification(classifications),
	}
	if obj.Redshift != nil {
		rec.Redshift = *obj.Redshift
	}

	// Replace the previous vector, if any.
	if err := s.index.Remove(ctx, rec.ObjID); err != nil {
		s.recordIndexUpsert(statusError)
		return err
	}
	if err := s.index.Insert(ctx, rec); err != nil {
		s.recordIndexUpsert(statusError)
		return err
	}
	s.recordIndexUpsert(statusSuccess)

	if err := s.ds.MarkObjSummaryIndexed(obj.ID); err != nil {
		// The vector landed. A stale marker only causes a redundant reindex.
		serviceLogger.Warn("failed to mark obj summary as indexed",
			"obj_id", obj.ID, "error", err)
	}

	serviceLogger.Debug("summary vector upserted",
		"obj_id", obj.ID, "document_bytes", len(document), "class", rec.Class)
	return nil
}

// summaryDocument assembles the text that gets embedded for an obj: the
// stored prose summary when there is one, otherwise an optional drafted
// summary, always followed by a factual block with coordinates, redshift
// and classifications.
func (s *Service) summaryDocument(ctx context.Context, obj *datastore.Obj, classifications []datastore.Classification) string {
	facts := summaryFacts(obj, classifications)

	prose := strings.TrimSpace(obj.Summary)
	if prose == "" && s.settings.OpenAI.Summarize && s.summarizer != nil {
		drafted, err := s.summarizer.Summarize(ctx, facts)
		switch {
		case err != nil:
			s.recordSummaryGeneration(statusError)
			serviceLogger.Warn("summary drafting failed, embedding facts only",
				"obj_id", obj.ID, "error", err)
		case drafted != "":
			s.recordSummaryGeneration(statusSuccess)
			prose = drafted
		}
	}

	if prose == "" {
		return facts
	}
	return prose + "\n\n" + facts
}

// summaryFacts renders the factual block for an obj.
func summaryFacts(obj *datastore.Obj, classifications []datastore.Classification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source %s at RA %.6f deg, Dec %+.6f deg.", obj.ID, obj.RA, obj.Dec)
	if obj.Redshift != nil {
		fmt.Fprintf(&b, " Redshift %.4f.", *obj.Redshift)
	}
	if len(classifications) > 0 {
		b.WriteString("\nClassifications:")
		for _, c := range classifications {
			fmt.Fprintf(&b, "\n- %s", c.Classification)
			if c.Probability != nil {
				fmt.Fprintf(&b, " (probability %.2f)", *c.Probability)
			}
			if c.ML {
				b.WriteString(" (machine generated)")
			}
		}
	}
	return b.String()
}

// latestClassification picks the newest classification name for the index
// metadata. GetAllObjClassifications orders newest first.
func latestClassification(classifications []datastore.Classification) string {
	if len(classifications) == 0 {
		return ""
	}
	return classifications[0].Classification
}
