package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/unmanic/unmanic/pkg/installation"
	"github.com/unmanic/unmanic/pkg/installation/mock"
	"github.com/unmanic/unmanic/pkg/kv/kvtest"
	"github.com/unmanic/unmanic/pkg/logging"
	"github.com/unmanic/unmanic/pkg/session"
)

const fixedID = "5f1d6f8e-6b0a-4b44-9f63-2f0f3c1b8d11"

var errStoreDown = errors.New("store down")

func newKVSession(t *testing.T, params session.Params) (*session.Session, *installation.KVStore) {
	t.Helper()
	store := installation.NewKVStore(kvtest.GetStore(context.Background(), t), logging.Dummy())
	return session.New(params, store, logging.Dummy()), store
}

func TestGetInstallationUUID_FreshStore(t *testing.T) {
	ctx := context.Background()
	s, store := newKVSession(t, session.Params{})

	id := s.GetInstallationUUID(ctx)
	require.Len(t, id, 36)
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, id, records[0].UUID)

	// stable across calls, no new records
	require.Equal(t, id, s.GetInstallationUUID(ctx))
	records, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestGetInstallationUUID_ExistingRecord(t *testing.T) {
	ctx := context.Background()
	s, store := newKVSession(t, session.Params{})
	existing := uuid.NewString()
	_, err := store.Upsert(ctx, existing)
	require.NoError(t, err)

	require.Equal(t, existing, s.GetInstallationUUID(ctx))
	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestGetInstallationUUID_SharedAcrossSessions(t *testing.T) {
	ctx := context.Background()
	kvStore := kvtest.GetStore(ctx, t)
	store := installation.NewKVStore(kvStore, logging.Dummy())

	first := session.New(session.Params{}, store, logging.Dummy()).GetInstallationUUID(ctx)
	// a new process on the same store sees the same installation
	second := session.New(session.Params{}, store, logging.Dummy()).GetInstallationUUID(ctx)
	require.Equal(t, first, second)
}

func TestGetInstallationUUID_FixedID(t *testing.T) {
	ctx := context.Background()
	s, store := newKVSession(t, session.Params{FixedID: fixedID})

	require.Equal(t, fixedID, s.GetInstallationUUID(ctx))
	res := store.Get(ctx, fixedID)
	require.Equal(t, installation.Found, res.Status)
}

func TestGetInstallationUUID_Concurrent(t *testing.T) {
	ctx := context.Background()
	s, store := newKVSession(t, session.Params{})

	const callers = 10
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ids[n] = s.GetInstallationUUID(ctx)
		}(i)
	}
	wg.Wait()

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	for _, id := range ids {
		require.Equal(t, records[0].UUID, id)
	}
	require.Equal(t, records[0].UUID, s.GetInstallationUUID(ctx))
}

func TestGetInstallationUUID_CachedAfterFirstCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock.NewMockStore(ctrl)
	ctx := context.Background()
	existing := &installation.Record{ID: "cnf0000000000000000g", UUID: uuid.NewString(), CreatedAt: time.Now()}

	store.EXPECT().Earliest(gomock.Any()).Return(installation.Lookup{Status: installation.Found, Record: existing}).Times(1)
	s := session.New(session.Params{}, store, logging.Dummy())
	for i := 0; i < 3; i++ {
		require.Equal(t, existing.UUID, s.GetInstallationUUID(ctx))
	}
}

func TestGetInstallationUUID_StoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock.NewMockStore(ctrl)
	ctx := context.Background()

	failed := installation.Lookup{Status: installation.Failed, Err: errStoreDown}
	store.EXPECT().Earliest(gomock.Any()).Return(failed).Times(2)
	store.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil, errStoreDown).Times(1)

	s := session.New(session.Params{}, store, logging.Dummy())
	id := s.GetInstallationUUID(ctx)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	// the generated identifier is kept for the process lifetime
	require.Equal(t, id, s.GetInstallationUUID(ctx))
}

func TestGetInstallationUUID_AdoptsConcurrentRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock.NewMockStore(ctrl)
	ctx := context.Background()
	winner := &installation.Record{ID: "cnf0000000000000000g", UUID: uuid.NewString()}

	gomock.InOrder(
		store.EXPECT().Earliest(gomock.Any()).Return(installation.Lookup{Status: installation.NotFound}),
		store.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, id string) (*installation.Record, error) {
			return &installation.Record{ID: "cnf0000000000000001g", UUID: id}, nil
		}),
		store.EXPECT().Earliest(gomock.Any()).Return(installation.Lookup{Status: installation.Found, Record: winner}),
	)

	s := session.New(session.Params{}, store, logging.Dummy())
	require.Equal(t, winner.UUID, s.GetInstallationUUID(ctx))
}

func TestRegisterUnmanic(t *testing.T) {
	ctx := context.Background()

	t.Run("empty_store", func(t *testing.T) {
		s, store := newKVSession(t, session.Params{})
		require.True(t, s.RegisterUnmanic(ctx, false))
		earliest := store.Earliest(ctx)
		require.Equal(t, installation.Found, earliest.Status)
		require.Equal(t, earliest.Record.UUID, s.GetInstallationUUID(ctx))
	})

	t.Run("existing_record", func(t *testing.T) {
		s, store := newKVSession(t, session.Params{})
		id := s.GetInstallationUUID(ctx)
		require.True(t, s.RegisterUnmanic(ctx, true))
		records, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Equal(t, id, records[0].UUID)
	})

	t.Run("store_failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mock.NewMockStore(ctrl)
		store.EXPECT().Earliest(gomock.Any()).Return(installation.Lookup{Status: installation.Failed, Err: errStoreDown}).AnyTimes()
		store.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil, errStoreDown).AnyTimes()
		s := session.New(session.Params{}, store, logging.Dummy())
		require.True(t, s.RegisterUnmanic(ctx, false))
	})
}

func TestRegisterUnmanic_KeepsCachedIdentifier(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock.NewMockStore(ctrl)
	ctx := context.Background()
	existing := &installation.Record{ID: "cnf0000000000000000g", UUID: uuid.NewString()}

	gomock.InOrder(
		store.EXPECT().Earliest(gomock.Any()).Return(installation.Lookup{Status: installation.Found, Record: existing}),
		store.EXPECT().Earliest(gomock.Any()).Return(installation.Lookup{Status: installation.Failed, Err: errStoreDown}).AnyTimes(),
	)
	store.EXPECT().Upsert(gomock.Any(), existing.UUID).Return(existing, nil).Times(1)

	s := session.New(session.Params{}, store, logging.Dummy())
	id := s.GetInstallationUUID(ctx)
	require.Equal(t, existing.UUID, id)
	require.True(t, s.RegisterUnmanic(ctx, true))
	require.Equal(t, id, s.GetInstallationUUID(ctx), "identifier changed after register")
}

func TestConstantOperations(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	// none of these operations reach the store
	s := session.New(session.Params{}, mock.NewMockStore(ctrl), logging.Dummy())

	require.Equal(t, 5, s.GetSupporterLevel())
	require.Equal(t, "http://localhost", s.GetSiteURL())
	require.Equal(t, "http://localhost/api/v1/mock/logout", s.GetSignOutURL())
	require.Equal(t, "http://localhost/api/v1/mock/login", s.GetPatreonLoginURL())
	require.Equal(t, "http://localhost/api/v1/mock/login", s.GetGithubLoginURL())
	require.Equal(t, "http://localhost/api/v1/mock/login", s.GetDiscordLoginURL())

	require.False(t, s.GetAccessToken())
	require.False(t, s.VerifyToken())
	require.False(t, s.InitDeviceAuthFlow(ctx))
	require.False(t, s.GetPatreonSponsorPage())

	require.True(t, s.AuthTrialAccount(ctx))
	s.APIGet(ctx, "api", "v1", "users")
	s.APIPost(ctx, "api", "v1", "users", map[string]string{"k": "v"})
	s.FetchUserData(ctx)

	require.Equal(t, 999, s.LibraryCount())
	require.Equal(t, 999, s.LinkCount())
	require.Empty(t, s.Name())
	require.Empty(t, s.Email())
	require.Empty(t, s.PictureURI())
	require.Nil(t, s.LastCheck())
	require.Equal(t, session.DefaultTimeout, s.Timeout())
	require.WithinDuration(t, time.Now(), s.Created(), time.Minute)
}

func TestOperationsIgnoreArguments(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	s := session.New(session.Params{}, mock.NewMockStore(ctrl), logging.Dummy())

	tests := []struct {
		prefix, version, path string
	}{
		{"", "", ""},
		{"api", "v2", "installation/auth"},
		{"/odd prefix/", "v999", "../../etc"},
	}
	for _, tt := range tests {
		require.Equal(t, "http://localhost/api/v1/mock", s.SetFullAPIURL(tt.prefix, tt.version, tt.path))
	}
	for _, flag := range []bool{true, false} {
		require.True(t, s.AuthUserAccount(ctx, flag))
		require.True(t, s.SignOut(ctx, flag))
	}
	for _, deviceCode := range []string{"", "code", "xyz-123"} {
		require.False(t, s.PollForAppToken(ctx, deviceCode, 5, 900))
		require.False(t, s.PollForAppToken(ctx, deviceCode, 0, -1))
	}
}

func TestSignOutKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	s, _ := newKVSession(t, session.Params{})
	id := s.GetInstallationUUID(ctx)
	require.True(t, s.SignOut(ctx, true))
	require.Equal(t, id, s.GetInstallationUUID(ctx))
}

func TestParams(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := session.New(session.Params{DevAPI: "http://localhost:8888", Timeout: 10 * time.Second},
		mock.NewMockStore(ctrl), logging.Dummy())
	require.Equal(t, "http://localhost:8888", s.DevAPI())
	require.Equal(t, 10*time.Second, s.Timeout())
}

func TestNew_LogsConstruction(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	session.New(session.Params{}, mock.NewMockStore(ctrl), logging.New(logger))
	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	require.Equal(t, logrus.InfoLevel, entry.Level)
	require.Equal(t, "Initialising new session object", entry.Message)
	require.Equal(t, session.ComponentName, entry.Data[logging.ComponentFieldKey])
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	s, _ := newKVSession(t, session.Params{Version: "1.2.3", FixedID: fixedID})
	md := s.Metadata(ctx)
	require.Equal(t, fixedID, md[session.InstallationIDKeyName])
	require.Equal(t, "1.2.3", md[session.VersionKeyName])
	require.Equal(t, "5", md[session.SupporterLevelKeyName])
	require.NotEmpty(t, md[session.CreatedKeyName])
	require.NotEmpty(t, md["golang_version"])
}

func TestRemoteAPIError(t *testing.T) {
	var err error = &session.RemoteAPIError{Message: "unreachable", StatusCode: 503}
	require.EqualError(t, err, "remote api: unreachable (status 503)")
	var apiErr *session.RemoteAPIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 503, apiErr.StatusCode)
}
