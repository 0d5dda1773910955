package editsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
)

// Phase 是一次编辑会话里冲突解决状态机的位置。
type Phase int

const (
	// PhaseClean：没有已知冲突。会话开始、检查返回无冲突、提交成功都回到这里。
	PhaseClean Phase = iota
	// PhaseConflicted：检查发现冲突，持有报告和已播种的合并工作副本。
	PhaseConflicted
	// PhaseResolving：用户正在解决界面里编辑工作副本。
	PhaseResolving
	// PhaseRecommitting：提交前的二次检查进行中。
	PhaseRecommitting
)

var (
	// ErrConflictDetected：保存被冲突拦下，进入解决流程。
	ErrConflictDetected = errors.New("conflict detected, resolution required")
	// ErrConflictAgain：提交时发现数据又被改了，需要重新审阅。
	ErrConflictAgain = errors.New("record changed again during resolution")
	// ErrBusy：同一会话的保存/提交必须串行。
	ErrBusy = errors.New("another save or resolve is already in flight")
	ErrWrongPhase = errors.New("operation not valid in current phase")
)

// ConflictChecker 是解决器需要的 oracle 面。OracleClient 实现它；
// 测试里用假实现。
type ConflictChecker interface {
	CheckForConflicts(ctx context.Context, recordType conflict.RecordType, recordID uint64, userContents []conflict.LocalizedContent) (*conflict.Report, error)
	RecheckConflicts(ctx context.Context, recordType conflict.RecordType, recordID uint64, userContents []conflict.LocalizedContent) (*conflict.Report, error)
}

// Resolver drives one record's save path: conflict check on save, human
// resolution over the merge working copy, a final recheck before commit,
// then persistence and a post-save refetch. All async failures surface as
// notifications at the action boundary; flags reset on every path so the
// caller never sticks in a loading state.
type Resolver struct {
	records RecordAPI
	oracle  ConflictChecker
	notify  Notifier

	mu       sync.Mutex
	phase    Phase
	inFlight bool
	report   *conflict.Report
	merge    *conflict.Merge
	// userRecord 是冲突发生那一刻用户的工作记录
	userRecord *conflict.Record
}

func NewResolver(records RecordAPI, oracle ConflictChecker, notify Notifier) *Resolver {
	if notify == nil {
		notify = NewLogNotifier()
	}
	return &Resolver{records: records, oracle: oracle, notify: notify}
}

func (r *Resolver) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Resolver) Report() *conflict.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// Conflicts 暴露逐 locale 的分类，驱动解决界面。
func (r *Resolver) Conflicts() []conflict.LocaleConflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.merge == nil {
		return nil
	}
	return r.merge.Conflicts()
}

// ResolvedContents 是当前工作副本的内容（按 id 升序）。
func (r *Resolver) ResolvedContents() []conflict.LocalizedContent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.merge == nil {
		return nil
	}
	return r.merge.Contents()
}

func (r *Resolver) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight {
		return ErrBusy
	}
	r.inFlight = true
	return nil
}

func (r *Resolver) end() {
	r.mu.Lock()
	r.inFlight = false
	r.mu.Unlock()
}

// Save 是保存按钮背后的流程：先问 oracle，无冲突直接落库，
// 有冲突则播种工作副本进入 Conflicted。检查失败保存中止，绝不盲存。
func (r *Resolver) Save(ctx context.Context, rec *conflict.Record) (*conflict.Record, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	defer r.end()

	report, err := r.oracle.CheckForConflicts(ctx, rec.Type, rec.ID, rec.Contents)
	if err != nil {
		r.notify.Notify("Saving failed, please try again.", NotifyError)
		return nil, fmt.Errorf("conflict check before save: %w", err)
	}

	if !report.HasConflict {
		updated, err := r.records.UpdateRecord(ctx, rec)
		if err != nil {
			r.notify.Notify("Saving failed, please try again.", NotifyError)
			return nil, err
		}
		r.mu.Lock()
		r.phase = PhaseClean
		r.report = nil
		r.merge = nil
		r.userRecord = nil
		r.mu.Unlock()
		r.notify.Notify("Saved.", NotifySuccess)
		return updated, nil
	}

	r.mu.Lock()
	r.phase = PhaseConflicted
	r.report = report
	r.userRecord = rec.Clone()
	r.merge = conflict.NewMerge(rec.Contents, report.ServerRecord.Contents)
	r.mu.Unlock()
	r.notify.Notify(fmt.Sprintf("This record was modified by %s while you were editing.", report.LastModifiedBy), NotifyWarning)
	return nil, ErrConflictDetected
}

// BeginResolving 标记用户进入解决界面。
func (r *Resolver) BeginResolving() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseConflicted && r.phase != PhaseResolving {
		return fmt.Errorf("%w: begin resolving in phase %d", ErrWrongPhase, r.phase)
	}
	r.phase = PhaseResolving
	return nil
}

// SetKeep / SetTitle / SetContent 把界面上的每次敲击/开关写进工作副本。
func (r *Resolver) SetKeep(localeID uint64, keep bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.merge == nil {
		return fmt.Errorf("%w: no active conflict", ErrWrongPhase)
	}
	if r.phase == PhaseConflicted {
		r.phase = PhaseResolving
	}
	return r.merge.SetKeep(localeID, keep)
}

func (r *Resolver) SetTitle(localeID uint64, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.merge == nil {
		return fmt.Errorf("%w: no active conflict", ErrWrongPhase)
	}
	if r.phase == PhaseConflicted {
		r.phase = PhaseResolving
	}
	r.merge.SetTitle(localeID, title)
	return nil
}

func (r *Resolver) SetContent(localeID uint64, content json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.merge == nil {
		return fmt.Errorf("%w: no active conflict", ErrWrongPhase)
	}
	if r.phase == PhaseConflicted {
		r.phase = PhaseResolving
	}
	r.merge.SetContent(localeID, content)
	return nil
}

// Cancel 放弃解决：报告和工作副本作废，不落任何东西。
func (r *Resolver) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = PhaseClean
	r.report = nil
	r.merge = nil
	r.userRecord = nil
}

// Commit 是 "Resolve & Save"：先 recheck 一次防二次竞态。
// 服务端时间戳又往前走了就带着新快照退回 Conflicted；否则以服务端记录为
// 结构基底、换上合并后的内容落库，然后刷新。
func (r *Resolver) Commit(ctx context.Context) (*conflict.Record, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	defer r.end()

	r.mu.Lock()
	if r.phase != PhaseConflicted && r.phase != PhaseResolving {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: commit in phase %d", ErrWrongPhase, r.phase)
	}
	if r.merge == nil || r.report == nil || r.userRecord == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: no active conflict", ErrWrongPhase)
	}
	r.phase = PhaseRecommitting
	recordType := r.userRecord.Type
	recordID := r.userRecord.ID
	resolved := r.merge.Contents()
	baseline := r.report.LastModifiedAt
	r.mu.Unlock()

	recheck, err := r.oracle.RecheckConflicts(ctx, recordType, recordID, resolved)
	if err != nil {
		r.revertToResolving()
		r.notify.Notify("Saving failed, please try again.", NotifyError)
		return nil, fmt.Errorf("recheck before commit: %w", err)
	}

	// recheck 期间锁是放开的，用户可能已经 Cancel 把会话清掉了。
	// 应答落地前必须确认会话还在，过期的结果直接丢弃。
	r.mu.Lock()
	if r.phase != PhaseRecommitting || r.merge == nil || r.report == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: resolution cancelled during recheck", ErrWrongPhase)
	}

	if recheck.HasConflict && recheck.LastModifiedAt.After(baseline) {
		// 用户看报告期间数据又变了，必须重新审阅
		r.report = recheck
		r.merge = conflict.NewMerge(resolved, recheck.ServerRecord.Contents)
		r.phase = PhaseConflicted
		r.mu.Unlock()
		r.notify.Notify("The record changed again while you were resolving. Please review the new changes.", NotifyWarning)
		return nil, ErrConflictAgain
	}

	if err := r.merge.Validate(); err != nil {
		r.phase = PhaseResolving
		r.mu.Unlock()
		r.notify.Notify(err.Error(), NotifyError)
		return nil, err
	}
	// 结构基底用（可能已刷新的）服务端记录，客户端没见过的字段不被回退
	base := r.report.ServerRecord
	if recheck.HasConflict && recheck.ServerRecord != nil {
		base = recheck.ServerRecord
	}
	toSave := conflict.BuildSaveRecord(base, resolved)
	r.mu.Unlock()

	updated, err := r.records.UpdateRecord(ctx, toSave)
	if err != nil {
		r.revertToResolving()
		r.notify.Notify("Saving failed, please try again.", NotifyError)
		return nil, err
	}

	r.mu.Lock()
	r.phase = PhaseClean
	r.report = nil
	r.merge = nil
	r.userRecord = nil
	r.mu.Unlock()
	r.notify.Notify("Conflict resolved and saved.", NotifySuccess)

	// 保存后刷新；刷新失败不影响已完成的保存
	refetched, err := r.records.FetchRecord(ctx, recordType, recordID)
	if err != nil {
		return updated, nil
	}
	return refetched, nil
}

// revertToResolving 把失败的提交退回 Resolving。
// 只在会话还处于 Recommitting 时回退，免得把已取消的会话救活。
func (r *Resolver) revertToResolving() {
	r.mu.Lock()
	if r.phase == PhaseRecommitting {
		r.phase = PhaseResolving
	}
	r.mu.Unlock()
}
