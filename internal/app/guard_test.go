package app

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/assetra/transfer-service/internal/domain"
)

func guardTransfer() *domain.TransferRecord {
	return &domain.TransferRecord{
		ID:           uuid.New(),
		FromOfficeID: "OFF-A",
		ToOfficeID:   "OFF-B",
		Status:       domain.StatusRequested,
		Lines:        []domain.TransferLine{{AssetItemID: "IT-1"}},
	}
}

func TestGuardAllow_OrgAdminMayPerformAnything(t *testing.T) {
	guard := Guard{}
	admin := domain.Actor{Subject: "admin", OfficeID: "OFF-Z", OrgAdmin: true}

	for _, transition := range domain.Transitions() {
		if err := guard.Allow(guardTransfer(), transition, admin); err != nil {
			t.Fatalf("org admin denied %s: %v", transition, err)
		}
	}
}

func TestGuardAllow_DestinationApprovesAndRejects(t *testing.T) {
	guard := Guard{}
	rec := guardTransfer()

	dest := domain.Actor{Subject: "dest-user", OfficeID: "OFF-B"}
	origin := domain.Actor{Subject: "origin-user", OfficeID: "OFF-A"}

	for _, transition := range []domain.Transition{domain.TransitionApprove, domain.TransitionReject} {
		if err := guard.Allow(rec, transition, dest); err != nil {
			t.Fatalf("destination actor denied %s: %v", transition, err)
		}
		if err := guard.Allow(rec, transition, origin); !errors.Is(err, domain.ErrNotAuthorized) {
			t.Fatalf("origin actor on %s: expected ErrNotAuthorized, got %v", transition, err)
		}
	}
}

func TestGuardAllow_OriginOrStoreDispatchesAndCancels(t *testing.T) {
	guard := Guard{}
	rec := guardTransfer()

	origin := domain.Actor{Subject: "origin-user", OfficeID: "OFF-A"}
	storeOp := domain.Actor{Subject: "store-user", StoreOperator: true}
	dest := domain.Actor{Subject: "dest-user", OfficeID: "OFF-B"}

	for _, transition := range []domain.Transition{domain.TransitionDispatchToStore, domain.TransitionCancel} {
		if err := guard.Allow(rec, transition, origin); err != nil {
			t.Fatalf("origin actor denied %s: %v", transition, err)
		}
		if err := guard.Allow(rec, transition, storeOp); err != nil {
			t.Fatalf("store operator denied %s: %v", transition, err)
		}
		if err := guard.Allow(rec, transition, dest); !errors.Is(err, domain.ErrNotAuthorized) {
			t.Fatalf("destination actor on %s: expected ErrNotAuthorized, got %v", transition, err)
		}
	}
}

func TestGuardAllow_StoreStepsRequireStoreScope(t *testing.T) {
	guard := Guard{}
	rec := guardTransfer()

	storeOp := domain.Actor{Subject: "store-user", StoreOperator: true}
	// Office membership alone is not enough for the store steps, even the origin office.
	origin := domain.Actor{Subject: "origin-user", OfficeID: "OFF-A"}

	for _, transition := range []domain.Transition{domain.TransitionReceiveAtStore, domain.TransitionDispatchToDest} {
		if err := guard.Allow(rec, transition, storeOp); err != nil {
			t.Fatalf("store operator denied %s: %v", transition, err)
		}
		if err := guard.Allow(rec, transition, origin); !errors.Is(err, domain.ErrNotAuthorized) {
			t.Fatalf("office actor on %s: expected ErrNotAuthorized, got %v", transition, err)
		}
	}
}

func TestGuardAllow_DestinationReceives(t *testing.T) {
	guard := Guard{}
	rec := guardTransfer()

	dest := domain.Actor{Subject: "dest-user", OfficeID: "OFF-B"}
	storeOp := domain.Actor{Subject: "store-user", StoreOperator: true}

	if err := guard.Allow(rec, domain.TransitionReceiveAtDest, dest); err != nil {
		t.Fatalf("destination actor denied receiveAtDest: %v", err)
	}
	if err := guard.Allow(rec, domain.TransitionReceiveAtDest, storeOp); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("store operator on receiveAtDest: expected ErrNotAuthorized, got %v", err)
	}
}

func TestGuardAllow_UnknownTransitionIsInvalidNotForbidden(t *testing.T) {
	guard := Guard{}
	err := guard.Allow(guardTransfer(), domain.Transition("teleport"), domain.Actor{Subject: "u", OfficeID: "OFF-B"})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for unknown transition, got %v", err)
	}
}

func TestGuardCanRead_ScopedToOfficesAndStore(t *testing.T) {
	guard := Guard{}
	rec := guardTransfer()

	cases := []struct {
		name  string
		actor domain.Actor
		want  bool
	}{
		{"origin office", domain.Actor{OfficeID: "OFF-A"}, true},
		{"destination office", domain.Actor{OfficeID: "OFF-B"}, true},
		{"store operator", domain.Actor{StoreOperator: true}, true},
		{"org admin elsewhere", domain.Actor{OfficeID: "OFF-Z", OrgAdmin: true}, true},
		{"unrelated office", domain.Actor{OfficeID: "OFF-Z"}, false},
		{"no office", domain.Actor{}, false},
	}
	for _, tc := range cases {
		if got := guard.CanRead(rec, tc.actor); got != tc.want {
			t.Fatalf("%s: CanRead = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestGuardCanCreate_OriginOfficeOrAdmin(t *testing.T) {
	guard := Guard{}

	if !guard.CanCreate("OFF-A", domain.Actor{OfficeID: "OFF-A"}) {
		t.Fatal("origin office member should create")
	}
	if !guard.CanCreate("OFF-A", domain.Actor{OfficeID: "OFF-Z", OrgAdmin: true}) {
		t.Fatal("org admin should create")
	}
	if guard.CanCreate("OFF-A", domain.Actor{OfficeID: "OFF-B"}) {
		t.Fatal("other office must not create for a foreign origin")
	}
	if guard.CanCreate("OFF-A", domain.Actor{StoreOperator: true}) {
		t.Fatal("store operator must not create transfers")
	}
}
