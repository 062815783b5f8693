package receipt

import (
	"testing"

	"github.com/Maverick0351a/latticedb/internal/canon"
)

func sampleLattice() Lattice {
	return Lattice{
		Version:       "1",
		LatticeID:     "L-000001",
		GroupID:       "G-000001",
		Dim:           4,
		LambdaG:       1.0,
		LambdaC:       0.5,
		LambdaQ:       4.0,
		EdgeHash:      canon.SHA256String("edges"),
		DeltaHTotal:   canon.Decimal(0.125),
		CGIters:       12,
		FinalResidual: canon.Decimal(1e-7),
		FileSHA256:    canon.SHA256String("file"),
		ModelSHA256:   canon.SHA256String("model@rev"),
	}
}

func TestLattice_SealAndVerify(t *testing.T) {
	r := sampleLattice()
	if err := r.Seal(); err != nil {
		t.Fatal(err)
	}
	if len(r.StateSig) != 64 {
		t.Fatalf("state_sig length %d, want 64", len(r.StateSig))
	}
	ok, err := r.VerifySig()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("sealed receipt failed verification")
	}
}

func TestLattice_SigExcludesItself(t *testing.T) {
	r := sampleLattice()
	if err := r.Seal(); err != nil {
		t.Fatal(err)
	}
	first := r.StateSig
	// Re-sealing with the sig already present must give the same value.
	if err := r.Seal(); err != nil {
		t.Fatal(err)
	}
	if r.StateSig != first {
		t.Error("state_sig depends on its own previous value")
	}
}

func TestLattice_TamperDetected(t *testing.T) {
	r := sampleLattice()
	if err := r.Seal(); err != nil {
		t.Fatal(err)
	}
	r.CGIters++
	ok, err := r.VerifySig()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("tampered receipt verified")
	}
}

func TestLattice_SigDeterministic(t *testing.T) {
	a := sampleLattice()
	b := sampleLattice()
	if err := a.Seal(); err != nil {
		t.Fatal(err)
	}
	if err := b.Seal(); err != nil {
		t.Fatal(err)
	}
	if a.StateSig != b.StateSig {
		t.Error("identical receipts produced different sigs")
	}
}

func sealedDB(t *testing.T, sigs []string) *DB {
	t.Helper()
	cfgHash := canon.SHA256String("config")
	root, err := canon.MerkleRoot(sigs, cfgHash)
	if err != nil {
		t.Fatal(err)
	}
	return &DB{Version: "1", DBRoot: root, ConfigHash: cfgHash, LatticeCount: len(sigs)}
}

func sampleComposite(t *testing.T, dbRoot string) *Composite {
	t.Helper()
	c := &Composite{
		Version:           "1",
		DBRoot:            dbRoot,
		LatticeIDs:        []string{"L-000001", "L-000002"},
		EdgeHashComposite: canon.SHA256String("composite-edges"),
		DeltaHTotal:       canon.Decimal(0.5),
		CGIters:           8,
		FinalResidual:     canon.Decimal(2e-7),
		Epsilon:           0.01,
		Tau:               0.001,
		Filters:           map[string]string{},
		ModelSHA256:       canon.SHA256String("model@rev"),
	}
	if err := c.Seal(); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestVerifyComposite_OK(t *testing.T) {
	witnesses := []Lattice{sampleLattice()}
	if err := witnesses[0].Seal(); err != nil {
		t.Fatal(err)
	}
	db := sealedDB(t, []string{witnesses[0].StateSig})
	comp := sampleComposite(t, db.DBRoot)

	res, err := VerifyComposite(comp, witnesses, db)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Verified || res.Reason != ReasonOK {
		t.Errorf("res = %+v, want verified ok", res)
	}
}

func TestVerifyComposite_StateSigMismatch(t *testing.T) {
	db := sealedDB(t, nil)
	comp := sampleComposite(t, db.DBRoot)
	comp.CGIters++ // tamper after sealing

	res, err := VerifyComposite(comp, nil, db)
	if err != nil {
		t.Fatal(err)
	}
	if res.Verified || res.Reason != ReasonStateSigMismatch {
		t.Errorf("res = %+v, want state_sig_mismatch", res)
	}
}

func TestVerifyComposite_MerkleRootMismatch(t *testing.T) {
	good := sampleLattice()
	if err := good.Seal(); err != nil {
		t.Fatal(err)
	}
	db := sealedDB(t, []string{good.StateSig})
	comp := sampleComposite(t, db.DBRoot)

	bad := sampleLattice()
	bad.CGIters = 999
	if err := bad.Seal(); err != nil {
		t.Fatal(err)
	}

	res, err := VerifyComposite(comp, []Lattice{bad}, db)
	if err != nil {
		t.Fatal(err)
	}
	if res.Verified || res.Reason != ReasonMerkleRootMismatch {
		t.Errorf("res = %+v, want merkle_root_mismatch", res)
	}
}

func TestVerifyComposite_DBRootMismatch(t *testing.T) {
	db := sealedDB(t, nil)
	comp := sampleComposite(t, "0000000000000000000000000000000000000000000000000000000000000000")

	res, err := VerifyComposite(comp, nil, db)
	if err != nil {
		t.Fatal(err)
	}
	if res.Verified || res.Reason != ReasonDBRootMismatch {
		t.Errorf("res = %+v, want db_root_mismatch", res)
	}
}
