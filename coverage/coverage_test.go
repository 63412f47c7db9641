package coverage

import (
	"bytes"
	"sync"
	"testing"

	"github.com/trailofbits/optik/evm"
)

var (
	contractA = evm.Hash{0xaa}
	contractB = evm.Hash{0xbb}
)

func TestModel_RecordingIsIdempotent(t *testing.T) {
	model := NewModel()
	for i := 0; i < 3; i++ {
		model.RecordInstruction(contractA, 10)
		model.RecordBranch(contractA, 20, true)
	}
	instructions, branches := model.Size()
	if instructions != 1 || branches != 1 {
		t.Errorf("wanted sizes (1,1), got (%d,%d)", instructions, branches)
	}
}

func TestModel_BranchDirectionsAreIndependent(t *testing.T) {
	model := NewModel()
	model.RecordBranch(contractA, 20, true)

	if !model.BranchCovered(contractA, 20, true) {
		t.Errorf("taken direction must be covered")
	}
	if model.BranchCovered(contractA, 20, false) {
		t.Errorf("fall-through direction must not be covered")
	}
}

func TestModel_ContractsAreIndependent(t *testing.T) {
	model := NewModel()
	model.RecordInstruction(contractA, 10)
	if model.InstructionCovered(contractB, 10) {
		t.Errorf("coverage must be keyed by contract")
	}
}

func TestModel_ResetClearsTheSession(t *testing.T) {
	model := NewModel()
	model.RecordInstruction(contractA, 10)
	model.Reset()
	instructions, branches := model.Size()
	if instructions != 0 || branches != 0 {
		t.Errorf("reset model must be empty, got (%d,%d)", instructions, branches)
	}
}

func TestModel_MergeReportsNewCoverageOnly(t *testing.T) {
	session := NewModel()
	session.RecordInstruction(contractA, 10)

	worker := NewModel()
	worker.RecordInstruction(contractA, 10)
	if session.Merge(worker) {
		t.Errorf("merging known coverage must not report a change")
	}

	worker.RecordBranch(contractA, 20, false)
	if !session.Merge(worker) {
		t.Errorf("merging new coverage must report a change")
	}
	if !session.BranchCovered(contractA, 20, false) {
		t.Errorf("merged branch is missing from the session model")
	}
}

func TestModel_ConcurrentMergesAreSafeAndComplete(t *testing.T) {
	session := NewModel()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			local := NewModel()
			for pc := 0; pc < 100; pc++ {
				local.RecordInstruction(contractA, uint64(pc))
			}
			local.RecordBranch(contractA, uint64(worker), true)
			session.Merge(local)
		}(i)
	}
	wg.Wait()

	instructions, branches := session.Size()
	if instructions != 100 || branches != 8 {
		t.Errorf("wanted sizes (100,8), got (%d,%d)", instructions, branches)
	}
}

func TestModel_MutualConcurrentMergesDoNotDeadlock(t *testing.T) {
	a := NewModel()
	a.RecordInstruction(contractA, 1)
	b := NewModel()
	b.RecordInstruction(contractA, 2)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.Merge(b)
		}()
		go func() {
			defer wg.Done()
			b.Merge(a)
		}()
	}
	wg.Wait()

	for _, model := range []*Model{a, b} {
		if instructions, _ := model.Size(); instructions != 2 {
			t.Errorf("wanted 2 covered instructions, got %d", instructions)
		}
	}
}

func TestModel_MergeWithItselfIsANoOp(t *testing.T) {
	m := NewModel()
	m.RecordInstruction(contractA, 1)
	if m.Merge(m) {
		t.Errorf("merging a model into itself must not report changes")
	}
	if instructions, _ := m.Size(); instructions != 1 {
		t.Errorf("wanted 1 covered instruction, got %d", instructions)
	}
}

func TestDiff_FindsOnlyNewEntries(t *testing.T) {
	before := NewModel()
	before.RecordInstruction(contractA, 10)
	before.RecordBranch(contractA, 20, true)

	after := before.Clone()
	after.RecordInstruction(contractA, 11)
	after.RecordBranch(contractA, 20, false)
	after.RecordInstruction(contractB, 5)

	delta := Diff(before, after)
	if len(delta.Instructions) != 2 {
		t.Fatalf("wanted 2 new instructions, got %v", delta.Instructions)
	}
	if len(delta.Branches) != 1 {
		t.Fatalf("wanted 1 new branch, got %v", delta.Branches)
	}
	if delta.Branches[0] != (BranchEdge{contractA, 20, false}) {
		t.Errorf("unexpected branch edge: %v", delta.Branches[0])
	}
	if delta.Empty() {
		t.Errorf("delta with entries must not be empty")
	}
}

func TestDiff_OfIdenticalModelsIsEmpty(t *testing.T) {
	model := NewModel()
	model.RecordInstruction(contractA, 10)
	if delta := Diff(model, model.Clone()); !delta.Empty() {
		t.Errorf("wanted empty delta, got %+v", delta)
	}
}

func TestReport_ExportIsDeterministic(t *testing.T) {
	model := NewModel()
	model.RecordInstruction(contractB, 7)
	model.RecordInstruction(contractA, 10)
	model.RecordInstruction(contractA, 2)
	model.RecordBranch(contractA, 20, true)
	model.RecordBranch(contractA, 20, false)

	var first, second bytes.Buffer
	if err := model.Export(&first); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if err := model.Export(&second); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Errorf("two exports of the same model must be byte-identical")
	}

	report, err := model.Report()
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if len(report.Contracts) != 2 {
		t.Fatalf("wanted 2 contracts, got %d", len(report.Contracts))
	}
	// Contracts are sorted by hash, so contractA (0xaa..) comes first.
	if got := report.Contracts[0].Instructions; len(got) != 2 || got[0] != 2 || got[1] != 10 {
		t.Errorf("instructions must be sorted, got %v", got)
	}
	if report.Contracts[0].InstructionsCovered != 2 || report.Contracts[0].BranchesCovered != 2 {
		t.Errorf("unexpected coverage counts: %+v", report.Contracts[0])
	}
	if report.Checksum == "" {
		t.Errorf("report must carry a checksum")
	}
}

func TestModel_ListenerCallbacksRecord(t *testing.T) {
	model := NewModel()
	model.OnInstruction(contractA, 42)
	model.OnBranch(evm.BranchSite{Contract: contractA, PC: 50}, true)

	if !model.InstructionCovered(contractA, 42) {
		t.Errorf("OnInstruction must record instruction coverage")
	}
	if !model.BranchCovered(contractA, 50, true) {
		t.Errorf("OnBranch must record branch coverage")
	}
}
