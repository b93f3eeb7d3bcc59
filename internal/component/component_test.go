package component

import "testing"

func TestAttachPtSingleSlot(t *testing.T) {
	var a AttachPt[ErrorLog] = *NewAttachPt[ErrorLog]()
	log := NewNoOpLogger()

	if err := a.Attach(log); err != OK {
		t.Fatalf("first attach: got %v", err)
	}
	if err := a.Attach(log); err != ErrAttachTooMany {
		t.Fatalf("second attach: want ErrAttachTooMany, got %v", err)
	}
	if !a.HasAttachedAndEnabled() {
		t.Fatal("expected attached and enabled")
	}
	if err := a.Detach(); err != OK {
		t.Fatalf("detach: got %v", err)
	}
	if err := a.Detach(); err != ErrAttachCompNotFound {
		t.Fatalf("second detach: want ErrAttachCompNotFound, got %v", err)
	}
}

func TestBaseLogErrorIncrementsStats(t *testing.T) {
	var b Base
	b.Init("TEST")
	if b.Name() != "TEST" {
		t.Fatalf("name: got %q", b.Name())
	}
	b.LogError(NewError(SevError, ErrBadPacketSeq, "boom"))
	if b.Stats.Errors.Load() != 1 {
		t.Fatalf("errors: got %d, want 1", b.Stats.Errors.Load())
	}
	snap := b.Stats.Snapshot()
	if snap.Errors != 1 {
		t.Fatalf("snapshot errors: got %d", snap.Errors)
	}
}

func TestDatapathRespClassification(t *testing.T) {
	if !RespCont.IsCont() {
		t.Fatal("RespCont should be continuable")
	}
	if RespFatalInvalidData.IsCont() {
		t.Fatal("fatal resp should not be continuable")
	}
	if !RespFatalNotInit.IsFatal() {
		t.Fatal("RespFatalNotInit should be fatal")
	}
}

func TestOpModeValidatedAgainstSupportedMask(t *testing.T) {
	var b Base
	b.Init("TEST")
	b.SetSupportedOpModes(0x0F)

	if err := b.SetOpMode(0x05); err != OK {
		t.Fatalf("supported flags rejected: %v", err)
	}
	if b.OpMode() != 0x05 {
		t.Fatalf("OpMode = 0x%X, want 0x05", b.OpMode())
	}
	if err := b.SetOpMode(0x10); err != ErrInvalidParamVal {
		t.Fatalf("unsupported flag: want ErrInvalidParamVal, got %v", err)
	}
	if b.OpMode() != 0x05 {
		t.Fatalf("rejected SetOpMode changed mode to 0x%X", b.OpMode())
	}
}
