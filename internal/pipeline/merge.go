package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mediscan-tech/mediscan/internal/extract"
	"github.com/mediscan-tech/mediscan/internal/langid"
)

// ProcessPair runs front and back images through the pipeline and merges
// the two outcomes into one record. The back image is optional. A
// one-sided failure degrades to the surviving side's record; only both
// sides failing fails the scan.
func (p *Pipeline) ProcessPair(ctx context.Context, front, back []byte) (*MedicineRecord, error) {
	return p.ProcessPairWithProgress(ctx, front, back, nil)
}

// ProcessPairWithProgress is ProcessPair with stage-completion events
// streamed to the callback as each side advances.
func (p *Pipeline) ProcessPairWithProgress(ctx context.Context, front, back []byte, progress ProgressFunc) (*MedicineRecord, error) {
	if len(front) == 0 {
		return nil, failedAt(StageNormalized, fmt.Errorf("front image is required"))
	}
	imageID := uuid.NewString()
	log := slog.With("image_id", imageID)

	if len(back) == 0 {
		res, err := p.processImage(ctx, front, SideFront, progress)
		if err != nil {
			return nil, err
		}
		return p.recordFrom(imageID, res.Language.Code, res.Fields, SourceFront), nil
	}

	var (
		wg                sync.WaitGroup
		frontRes, backRes *SideResult
		frontErr, backErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		frontRes, frontErr = p.processImage(ctx, front, SideFront, progress)
	}()
	go func() {
		defer wg.Done()
		backRes, backErr = p.processImage(ctx, back, SideBack, progress)
	}()
	wg.Wait()

	switch {
	case frontErr != nil && backErr != nil:
		return nil, errors.Join(frontErr, backErr)
	case frontErr != nil:
		log.Warn("Front image failed, record built from back only", "error", frontErr)
		return p.recordFrom(imageID, backRes.Language.Code, backRes.Fields, SourceBack), nil
	case backErr != nil:
		log.Warn("Back image failed, record built from front only", "error", backErr)
		return p.recordFrom(imageID, frontRes.Language.Code, frontRes.Fields, SourceFront), nil
	}

	return p.merge(imageID, frontRes, backRes), nil
}

// merge combines two side results field by field: each field comes from
// the side where it scored higher, with the front winning ties. The
// detected language follows the side with the higher overall confidence,
// again front on ties, so merging is deterministic.
func (p *Pipeline) merge(imageID string, front, back *SideResult) *MedicineRecord {
	fields := extract.Fields{
		MedicineName: pickField(front.Fields.MedicineName, back.Fields.MedicineName),
		Ingredients:  pickField(front.Fields.Ingredients, back.Fields.Ingredients),
		Quantity:     pickField(front.Fields.Quantity, back.Fields.Quantity),
	}

	lang := front.Language.Code
	if back.Confidence > front.Confidence {
		lang = back.Language.Code
	}
	if lang == langid.Unknown && front.Language.Code != back.Language.Code {
		// Prefer a concrete language over unknown when only one side has one.
		if other := otherLanguage(front.Language.Code, back.Language.Code); other != langid.Unknown {
			lang = other
		}
	}

	return p.recordFrom(imageID, lang, fields, SourceMerged)
}

func pickField(front, back extract.Field) extract.Field {
	if back.Confidence > front.Confidence {
		return back
	}
	return front
}

func otherLanguage(a, b langid.Code) langid.Code {
	if a != langid.Unknown {
		return a
	}
	return b
}
