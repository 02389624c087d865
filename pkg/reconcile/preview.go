package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/events"
	"github.com/campusops/reconcile/pkg/identity"
	"github.com/campusops/reconcile/pkg/match"
	"github.com/campusops/reconcile/pkg/merge"
	"github.com/campusops/reconcile/pkg/model"
)

// Preview runs the sequential row pass: each row is identified, matched
// against an immutable snapshot of the store, and diffed into the
// transaction's changeset. The pass always completes and returns a full
// report; invalid rows are skipped with their reason in lineage.
func (s *Service) Preview(ctx context.Context, rows []model.ImportRow, importType model.ImportType, scope string) (*model.ImportTransaction, error) {
	snap, err := match.LoadSnapshot(ctx, s.store, s.matchCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load store snapshot: %w", err)
	}

	p := &previewPass{
		svc:             s,
		tx:              model.NewImportTransaction(importType, scope),
		matcher:         match.NewMatcher(s.matchCfg, snap, s.threshold, s.logger),
		now:             time.Now().UTC(),
		seenPrimary:     make(map[string]int),
		pendingSections: make(map[string]string),
		pendingRooms:    make(map[string]string),
		pendingPersons:  make(map[string]*pendingPerson),
	}

	s.logger.Info("Starting preview",
		zap.String("txId", p.tx.TxID),
		zap.String("type", string(importType)),
		zap.String("scope", scope),
		zap.Int("rows", len(rows)))

	// Order matters: in-batch duplicate detection and progressive issue
	// merging both depend on a single sequential pass.
	for _, row := range rows {
		if row.Hash == "" {
			row.Hash = identity.RowContentHash(row.Fields)
		}

		switch importType {
		case model.ImportSchedule:
			p.scheduleRow(row)
		case model.ImportDirectory:
			p.directoryRow(row)
		default:
			return nil, fmt.Errorf("unknown import type %q", importType)
		}
	}

	p.tx.RecomputeStats()
	if err := s.txStore.SaveTransaction(ctx, p.tx); err != nil {
		return nil, fmt.Errorf("failed to persist preview: %w", err)
	}

	s.logger.Info("Preview complete",
		zap.String("txId", p.tx.TxID),
		zap.Int("changes", len(p.tx.Changes)),
		zap.Int("openIssues", p.tx.Stats.OpenIssues),
		zap.Int("skipped", p.tx.Stats.Skipped))

	return p.tx, nil
}

// pendingPerson tracks an in-batch person creation (provisional or not)
// shared across rows that reference the same person.
type pendingPerson struct {
	personID string
	changeID string
	issueID  string
}

type previewPass struct {
	svc     *Service
	tx      *model.ImportTransaction
	matcher *match.Matcher
	now     time.Time

	// seenPrimary maps a derived primary key to the row index that first
	// used it, for in-batch duplicate rejection.
	seenPrimary map[string]int

	// pendingSections maps every identity key of each section change
	// queued earlier in this batch to that change's id. Two rows whose
	// key sets overlap on any key describe the same section even when
	// their derived primary keys differ, so later rows fold into the
	// queued change instead of creating a second record.
	pendingSections map[string]string

	// pendingRooms maps space keys of rooms created earlier in this
	// batch to their record ids.
	pendingRooms map[string]string

	pendingPersons map[string]*pendingPerson
}

// skip records a rejected row and keeps the pass going.
func (p *previewPass) skip(row model.ImportRow, reason string) {
	p.tx.AddError(row.Index, reason)
	p.tx.RecordLineage(model.LineageRecord{
		RowIndex: row.Index,
		RowHash:  row.Hash,
		Outcome:  model.OutcomeSkipped,
		Reason:   reason,
	})
	p.svc.bus.Publish(events.RowSkipped{
		TxID:     p.tx.TxID,
		RowIndex: row.Index,
		RowHash:  row.Hash,
		Reason:   reason,
	})
}

// scheduleRow processes one course-schedule row.
func (p *previewPass) scheduleRow(row model.ImportRow) {
	sr, err := model.ExtractSectionRow(row)
	if err != nil {
		p.skip(row, err.Error())
		return
	}

	keys := identity.SectionKeys(sr)
	primaryKey := keys[0]

	if firstIndex, dup := p.seenPrimary[primaryKey]; dup {
		p.skip(row, fmt.Sprintf("in-batch duplicate of row %d (primary key %s)", firstIndex, primaryKey))
		return
	}
	p.seenPrimary[primaryKey] = row.Index

	groupKey := primaryKey

	roomIDs, roomNames := p.resolveRooms(sr, groupKey)
	assignments, blockingIssue := p.resolveInstructors(sr, groupKey)

	incoming := &model.Section{
		ExternalID:      sr.ExternalID,
		ReferenceNumber: sr.ReferenceNumber,
		Course:          sr.Course,
		SectionNumber:   sr.SectionNumber,
		Term:            sr.Term,
		IdentityKeys:    keys,
		PrimaryKey:      primaryKey,
		Assignments:     assignments,
		RoomIDs:         roomIDs,
		RoomNames:       roomNames,
		Meetings:        sr.Meetings,
		Enrollment:      sr.Enrollment,
		Capacity:        sr.Capacity,
		Status:          sr.Status,
		NoRoomNeeded:    sr.NoRoomNeeded,
		SourceRowHash:   row.Hash,
		LastImportedAt:  p.now,
	}

	if changeID, sharedKey := p.pendingSectionFor(keys); changeID != "" {
		p.mergeIntoPending(row, changeID, sharedKey, incoming, blockingIssue)
		return
	}

	result := p.matcher.MatchSection(keys)
	if result.CollisionWarning != "" {
		p.tx.AddWarning(row.Index, result.CollisionWarning)
	}

	switch result.Status {
	case match.StatusMatched:
		p.modifySection(row, result.Section, incoming, groupKey, blockingIssue)
	case match.StatusNone:
		p.addSection(row, incoming, groupKey, blockingIssue)
	}
}

// addSection queues a create for a section the store has never seen.
func (p *previewPass) addSection(row model.ImportRow, incoming *model.Section, groupKey, blockingIssue string) {
	incoming.RecordID = identity.SectionID(incoming.PrimaryKey)
	incoming.UpdatedAt = p.now

	c := model.NewChange(model.EntitySection, model.ActionAdd).WithGroup(groupKey).WithRow(row.Hash)
	c.New = incoming
	c.PendingIssueID = blockingIssue
	p.tx.AddChange(c)
	p.indexPendingSection(incoming.IdentityKeys, c.ChangeID)
	p.registerDependent(blockingIssue, c.ChangeID)

	outcome := model.OutcomeCreated
	if blockingIssue != "" {
		outcome = model.OutcomePendingIssue
	}
	p.tx.RecordLineage(model.LineageRecord{
		RowIndex: row.Index,
		RowHash:  row.Hash,
		Outcome:  outcome,
		EntityID: incoming.RecordID,
		ChangeID: c.ChangeID,
	})
}

// modifySection diffs the incoming section against the matched record.
func (p *previewPass) modifySection(row model.ImportRow, existing, incoming *model.Section, groupKey, blockingIssue string) {
	merged, deltas := merge.DiffSection(existing, incoming)
	if len(deltas) == 0 {
		p.tx.RecordLineage(model.LineageRecord{
			RowIndex: row.Index,
			RowHash:  row.Hash,
			Outcome:  model.OutcomeUnchanged,
			EntityID: existing.ID(),
		})
		return
	}

	merged.UpdatedAt = p.now
	c := model.NewChange(model.EntitySection, model.ActionModify).WithGroup(groupKey).WithRow(row.Hash)
	c.New = merged
	c.Original = existing.Clone()
	c.Diff = deltas
	c.MetadataOnly = merge.MetadataOnly(deltas)
	c.PendingIssueID = blockingIssue
	p.tx.AddChange(c)
	p.indexPendingSection(merged.IdentityKeys, c.ChangeID)
	p.registerDependent(blockingIssue, c.ChangeID)

	outcome := model.OutcomeUpdated
	switch {
	case blockingIssue != "":
		outcome = model.OutcomePendingIssue
	case c.MetadataOnly:
		outcome = model.OutcomeMetadataOnly
	}
	p.tx.RecordLineage(model.LineageRecord{
		RowIndex: row.Index,
		RowHash:  row.Hash,
		Outcome:  outcome,
		EntityID: existing.ID(),
		ChangeID: c.ChangeID,
	})
}

// pendingSectionFor returns the id of a queued section change sharing
// any candidate key with this row, plus the key that matched.
func (p *previewPass) pendingSectionFor(keys []string) (changeID, sharedKey string) {
	for _, key := range keys {
		if id, ok := p.pendingSections[key]; ok {
			return id, key
		}
	}
	return "", ""
}

// indexPendingSection records every identity key of a queued section
// change so later rows in the batch resolve to it.
func (p *previewPass) indexPendingSection(keys []string, changeID string) {
	for _, key := range keys {
		p.pendingSections[key] = changeID
	}
}

// mergeIntoPending folds a row into the section change an earlier row of
// this batch queued. Sections sharing an identity key are the same
// entity, so the incoming fields merge into the queued payload and the
// key union is re-indexed; no second record is created.
func (p *previewPass) mergeIntoPending(row model.ImportRow, changeID, sharedKey string, incoming *model.Section, blockingIssue string) {
	c := p.tx.FindChange(changeID)
	if c == nil {
		return
	}
	pending := c.New.(*model.Section)

	merged, deltas := merge.DiffSection(pending, incoming)
	merged.UpdatedAt = p.now
	c.New = merged
	if c.Action == model.ActionModify {
		c.Diff = append(c.Diff, deltas...)
		c.MetadataOnly = merge.MetadataOnly(c.Diff)
	}
	p.indexPendingSection(merged.IdentityKeys, changeID)

	if c.PendingIssueID == "" && blockingIssue != "" {
		c.PendingIssueID = blockingIssue
		p.registerDependent(blockingIssue, c.ChangeID)
	}

	outcome := model.OutcomeUnchanged
	switch {
	case c.PendingIssueID != "":
		outcome = model.OutcomePendingIssue
	case len(deltas) > 0 && !merge.MetadataOnly(deltas):
		outcome = model.OutcomeUpdated
	case len(deltas) > 0:
		outcome = model.OutcomeMetadataOnly
	}
	p.tx.RecordLineage(model.LineageRecord{
		RowIndex: row.Index,
		RowHash:  row.Hash,
		Outcome:  outcome,
		Reason:   fmt.Sprintf("shares identity key %s with an earlier row in this batch", sharedKey),
		EntityID: merged.ID(),
		ChangeID: c.ChangeID,
	})
}

// resolveRooms maps room mentions to record ids, lazily queueing creates
// for rooms the store does not know.
func (p *previewPass) resolveRooms(sr model.SectionRow, groupKey string) ([]string, []string) {
	if sr.NoRoomNeeded {
		return nil, nil
	}

	var ids, names []string
	for _, name := range sr.RoomNames {
		names = append(names, name)

		if r := p.matcher.MatchRoom(name); r != nil {
			ids = append(ids, r.ID())
			continue
		}

		key := identity.Slug(name)
		if id, ok := p.pendingRooms[key]; ok {
			ids = append(ids, id)
			continue
		}

		room := &model.Room{
			RecordID:       key,
			SpaceKey:       key,
			DisplayName:    name,
			SourceRowHash:  sr.Row.Hash,
			LastImportedAt: p.now,
			UpdatedAt:      p.now,
		}
		c := model.NewChange(model.EntityRoom, model.ActionAdd).WithGroup(groupKey).WithRow(sr.Row.Hash)
		c.New = room
		p.tx.AddChange(c)
		p.pendingRooms[key] = room.RecordID
		ids = append(ids, room.RecordID)
	}
	return ids, names
}

// resolveInstructors maps instructor mentions to person ids, creating
// provisional persons for unmatched mentions and opening match issues
// for ambiguous ones. The returned issue id, when non-empty, blocks the
// section change until the operator decides.
func (p *previewPass) resolveInstructors(sr model.SectionRow, groupKey string) ([]model.InstructorAssignment, string) {
	var assignments []model.InstructorAssignment
	blockingIssue := ""

	for _, ref := range sr.Instructors {
		q := match.PersonQuery{
			ExternalID: ref.ExternalID,
			FirstName:  ref.FirstName,
			LastName:   ref.LastName,
		}

		result := p.matcher.MatchPerson(q)
		switch result.Status {
		case match.StatusMatched:
			assignments = append(assignments, model.InstructorAssignment{
				PersonID:    result.Person.ID(),
				Primary:     ref.Primary,
				LoadPercent: ref.LoadPercent,
			})
			p.backfillPerson(sr.Row, result.Person, ref, groupKey)

		case match.StatusNone:
			personID := p.createPerson(sr.Row, ref, q, groupKey)
			assignments = append(assignments, model.InstructorAssignment{
				PersonID:    personID,
				Primary:     ref.Primary,
				LoadPercent: ref.LoadPercent,
			})

		case match.StatusAmbiguous:
			personID, issueID := p.openIssue(sr.Row, ref, q, result, groupKey)
			assignments = append(assignments, model.InstructorAssignment{
				PersonID:    personID,
				Primary:     ref.Primary,
				LoadPercent: ref.LoadPercent,
			})
			if blockingIssue == "" {
				blockingIssue = issueID
			}
		}
	}

	return assignments, blockingIssue
}

// personFromRef builds the person payload a schedule row implies.
func (p *previewPass) personFromRef(row model.ImportRow, ref model.InstructorRef) *model.Person {
	return &model.Person{
		ExternalID:     ref.ExternalID,
		FirstName:      ref.FirstName,
		LastName:       ref.LastName,
		Roles:          []string{"instructor"},
		SourceRowHash:  row.Hash,
		LastImportedAt: p.now,
		UpdatedAt:      p.now,
	}
}

// backfillPerson queues an update when a row carries identity signals the
// matched record lacks (an external id learned from the schedule export).
func (p *previewPass) backfillPerson(row model.ImportRow, existing *model.Person, ref model.InstructorRef, groupKey string) {
	if ref.ExternalID == "" || existing.ExternalID != "" {
		return
	}

	incoming := existing.Clone().(*model.Person)
	incoming.ExternalID = ref.ExternalID
	incoming.SourceRowHash = row.Hash
	incoming.LastImportedAt = p.now

	merged, deltas := merge.DiffPerson(existing, incoming)
	if len(deltas) == 0 {
		return
	}

	c := model.NewChange(model.EntityPerson, model.ActionModify).WithGroup(groupKey).WithRow(row.Hash)
	c.New = merged
	c.Original = existing.Clone()
	c.Diff = deltas
	c.MetadataOnly = merge.MetadataOnly(deltas)
	p.tx.AddChange(c)
}

// createPerson queues an add for an unmatched instructor, shared across
// rows in this batch that mention the same person.
func (p *previewPass) createPerson(row model.ImportRow, ref model.InstructorRef, q match.PersonQuery, groupKey string) string {
	key := q.MatchKey()
	if pending, ok := p.pendingPersons[key]; ok {
		// Progressive fill of the shared add.
		if c := p.tx.FindChange(pending.changeID); c != nil {
			p.svc.resolver.AbsorbChange(c, p.personFromRef(row, ref))
		}
		return pending.personID
	}

	person := p.personFromRef(row, ref)
	person.RecordID = identity.PersonID(person)

	c := model.NewChange(model.EntityPerson, model.ActionAdd).WithGroup(groupKey).WithRow(row.Hash)
	c.New = person
	p.tx.AddChange(c)

	p.pendingPersons[key] = &pendingPerson{personID: person.RecordID, changeID: c.ChangeID}
	return person.RecordID
}

// openIssue opens (or reuses) the match issue for an ambiguous mention
// and keeps its provisional add up to date.
func (p *previewPass) openIssue(row model.ImportRow, ref model.InstructorRef, q match.PersonQuery, result match.PersonResult, groupKey string) (personID, issueID string) {
	key := q.MatchKey()

	if pending, ok := p.pendingPersons[key]; ok && pending.issueID != "" {
		if mi := p.tx.FindIssue(pending.issueID); mi != nil {
			p.svc.resolver.Absorb(p.tx, mi, p.personFromRef(row, ref))
		}
		return pending.personID, pending.issueID
	}

	person := p.personFromRef(row, ref)
	person.RecordID = identity.PersonID(person)

	mi := model.NewMatchIssue(key, result.Reason, person)
	mi.Candidates = result.Candidates

	c := model.NewChange(model.EntityPerson, model.ActionAdd).WithGroup(groupKey).WithRow(row.Hash)
	c.New = person
	c.PendingIssueID = mi.IssueID
	p.tx.AddChange(c)

	mi.ProvisionalChangeID = c.ChangeID
	p.tx.AddIssue(mi)

	p.pendingPersons[key] = &pendingPerson{
		personID: person.RecordID,
		changeID: c.ChangeID,
		issueID:  mi.IssueID,
	}

	p.svc.logger.Info("Opened match issue",
		zap.String("txId", p.tx.TxID),
		zap.String("issueId", mi.IssueID),
		zap.String("matchKey", key),
		zap.Int("candidates", len(mi.Candidates)))

	return person.RecordID, mi.IssueID
}

// registerDependent records a change as blocked on an issue.
func (p *previewPass) registerDependent(issueID, changeID string) {
	if issueID == "" {
		return
	}
	if mi := p.tx.FindIssue(issueID); mi != nil {
		mi.AddDependent(changeID)
	}
}

// directoryRow processes one personnel-directory row.
func (p *previewPass) directoryRow(row model.ImportRow) {
	pr, err := model.ExtractPersonRow(row)
	if err != nil {
		p.skip(row, err.Error())
		return
	}

	incoming := &model.Person{
		ExternalID:     pr.ExternalID,
		OrgID:          pr.OrgID,
		Email:          pr.Email,
		FirstName:      pr.FirstName,
		MiddleName:     pr.MiddleName,
		LastName:       pr.LastName,
		Title:          pr.Title,
		Phone:          pr.Phone,
		Office:         pr.Office,
		Roles:          pr.Roles,
		SourceRowHash:  row.Hash,
		LastImportedAt: p.now,
	}

	q := match.PersonQuery{
		ExternalID: pr.ExternalID,
		OrgID:      pr.OrgID,
		Email:      pr.Email,
		FirstName:  pr.FirstName,
		LastName:   pr.LastName,
		Title:      pr.Title,
	}

	key := q.MatchKey()
	if _, dup := p.seenPrimary[key]; dup {
		p.skip(row, fmt.Sprintf("in-batch duplicate of row %d (match key %s)", p.seenPrimary[key], key))
		return
	}
	p.seenPrimary[key] = row.Index

	result := p.matcher.MatchPerson(q)
	switch result.Status {
	case match.StatusMatched:
		p.modifyPerson(row, result.Person, incoming)

	case match.StatusNone:
		incoming.RecordID = identity.PersonID(incoming)
		incoming.UpdatedAt = p.now
		c := model.NewChange(model.EntityPerson, model.ActionAdd).WithGroup(key).WithRow(row.Hash)
		c.New = incoming
		p.tx.AddChange(c)
		p.tx.RecordLineage(model.LineageRecord{
			RowIndex: row.Index,
			RowHash:  row.Hash,
			Outcome:  model.OutcomeCreated,
			EntityID: incoming.RecordID,
			ChangeID: c.ChangeID,
		})

	case match.StatusAmbiguous:
		incoming.RecordID = identity.PersonID(incoming)
		mi := model.NewMatchIssue(key, result.Reason, incoming)
		mi.Candidates = result.Candidates

		c := model.NewChange(model.EntityPerson, model.ActionAdd).WithGroup(key).WithRow(row.Hash)
		c.New = incoming
		c.PendingIssueID = mi.IssueID
		p.tx.AddChange(c)

		mi.ProvisionalChangeID = c.ChangeID
		p.tx.AddIssue(mi)

		p.tx.RecordLineage(model.LineageRecord{
			RowIndex: row.Index,
			RowHash:  row.Hash,
			Outcome:  model.OutcomePendingIssue,
			EntityID: incoming.RecordID,
			ChangeID: c.ChangeID,
		})
	}
}

// modifyPerson diffs an incoming directory record against the match.
func (p *previewPass) modifyPerson(row model.ImportRow, existing, incoming *model.Person) {
	merged, deltas := merge.DiffPerson(existing, incoming)
	if len(deltas) == 0 {
		p.tx.RecordLineage(model.LineageRecord{
			RowIndex: row.Index,
			RowHash:  row.Hash,
			Outcome:  model.OutcomeUnchanged,
			EntityID: existing.ID(),
		})
		return
	}

	merged.UpdatedAt = p.now
	c := model.NewChange(model.EntityPerson, model.ActionModify).WithGroup("person:" + existing.ID()).WithRow(row.Hash)
	c.New = merged
	c.Original = existing.Clone()
	c.Diff = deltas
	c.MetadataOnly = merge.MetadataOnly(deltas)
	p.tx.AddChange(c)

	outcome := model.OutcomeUpdated
	if c.MetadataOnly {
		outcome = model.OutcomeMetadataOnly
	}
	p.tx.RecordLineage(model.LineageRecord{
		RowIndex: row.Index,
		RowHash:  row.Hash,
		Outcome:  outcome,
		EntityID: existing.ID(),
		ChangeID: c.ChangeID,
	})
}
