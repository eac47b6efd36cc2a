package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/blob-module/internal/domain/model"
	"github.com/bigkaa/goartstore/blob-module/internal/repository"
)

func ptr[T any](v T) *T { return &v }

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		in, want Page
	}{
		{Page{Skip: 0, Limit: 10}, Page{Skip: 0, Limit: 10}},
		{Page{Skip: -5, Limit: 10}, Page{Skip: 0, Limit: 10}},
		{Page{Skip: 3, Limit: 0}, Page{Skip: 3, Limit: DefaultLimit}},
		{Page{Skip: 3, Limit: -1}, Page{Skip: 3, Limit: DefaultLimit}},
		{Page{Skip: 0, Limit: MaxLimit}, Page{Skip: 0, Limit: MaxLimit}},
		{Page{Skip: 0, Limit: MaxLimit + 1}, Page{Skip: 0, Limit: DefaultLimit}},
	}
	for _, tt := range tests {
		if got := NormalizePage(tt.in); got != tt.want {
			t.Errorf("NormalizePage(%+v) = %+v, ожидалось %+v", tt.in, got, tt.want)
		}
	}
}

// TestGet_Visibility — приватный файл чужого владельца неотличим от отсутствующего.
func TestGet_Visibility(t *testing.T) {
	env := newTestEnv(t)
	priv := env.mustUpload(t, "alice", "secret.txt", "s", model.VisibilityPrivate)
	pub := env.mustUpload(t, "alice", "public.txt", "p", model.VisibilityPublic)
	ctx := context.Background()

	if _, err := env.files.Get(ctx, priv.ID, "alice"); err != nil {
		t.Errorf("владелец: %v", err)
	}
	if _, err := env.files.Get(ctx, priv.ID, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("чужой приватный: ошибка = %v, ожидался ErrNotFound", err)
	}
	if _, err := env.files.Get(ctx, pub.ID, "bob"); err != nil {
		t.Errorf("чужой публичный: %v", err)
	}
	if _, err := env.files.Get(ctx, "missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("отсутствующий: ошибка = %v, ожидался ErrNotFound", err)
	}

	// Запись владельца уже в кэше — кэш не должен раскрывать её другим
	if _, err := env.files.Get(ctx, priv.ID, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("чужой приватный из кэша: ошибка = %v", err)
	}
}

// TestList_VisibilityAndFilters проверяет предикат видимости и фильтры.
func TestList_VisibilityAndFilters(t *testing.T) {
	env := newTestEnv(t)
	env.mustUpload(t, "alice", "a1.txt", "a1", model.VisibilityPrivate, "work")
	env.mustUpload(t, "alice", "a2.txt", "a2", model.VisibilityPublic, "Work", "photo")
	env.mustUpload(t, "bob", "b1.txt", "b1", model.VisibilityPrivate, "work")
	env.mustUpload(t, "bob", "b2.txt", "b2", model.VisibilityPublic)
	ctx := context.Background()

	res, err := env.files.List(ctx, "alice", ListFilter{}, Page{}, Sort{Field: model.SortByFilename})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, []string{"a1.txt", "a2.txt", "b2.txt"}, filenames(res.Items))

	public := model.VisibilityPublic
	res, err = env.files.List(ctx, "alice", ListFilter{Visibility: &public}, Page{}, Sort{Field: model.SortByFilename})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2.txt", "b2.txt"}, filenames(res.Items))

	// Фильтр по тегу без учёта регистра и только среди видимых
	res, err = env.files.List(ctx, "bob", ListFilter{Tag: ptr(" WORK ")}, Page{}, Sort{Field: model.SortByFilename})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2.txt", "b1.txt"}, filenames(res.Items))

	// Анонимный субъект видит только публичные
	res, err = env.files.List(ctx, "", ListFilter{}, Page{}, Sort{Field: model.SortByFilename, Desc: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b2.txt", "a2.txt"}, filenames(res.Items))
}

// TestList_PageClamp — некорректные skip/limit приводятся к допустимым.
func TestList_PageClamp(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 60; i++ {
		env.mustUpload(t, "alice", fmt.Sprintf("f%02d.txt", i), fmt.Sprintf("content-%d", i), model.VisibilityPrivate)
	}
	ctx := context.Background()

	res, err := env.files.List(ctx, "alice", ListFilter{}, Page{Skip: -3, Limit: 0}, Sort{Field: model.SortByFilename})
	require.NoError(t, err)
	assert.Equal(t, 60, res.Total)
	assert.Equal(t, 0, res.Skip)
	assert.Equal(t, DefaultLimit, res.Limit)
	assert.Len(t, res.Items, DefaultLimit)
	assert.Equal(t, "f00.txt", res.Items[0].Filename)

	res, err = env.files.List(ctx, "alice", ListFilter{}, Page{Skip: 55, Limit: 5000}, Sort{Field: model.SortByFilename})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, res.Limit)
	assert.Len(t, res.Items, 5)

	res, err = env.files.List(ctx, "alice", ListFilter{}, Page{Skip: 100, Limit: 10}, Sort{})
	require.NoError(t, err)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
	assert.Equal(t, 60, res.Total)
}

// TestUpdate — переименование и замена тегов.
func TestUpdate(t *testing.T) {
	env := newTestEnv(t)
	rec := env.mustUpload(t, "alice", "a.txt", "a", model.VisibilityPrivate, "old")
	env.mustUpload(t, "alice", "taken.txt", "b", model.VisibilityPrivate)
	ctx := context.Background()

	updated, err := env.files.Update(ctx, rec.ID, "alice", UpdateParams{
		Filename: ptr("renamed.txt"),
		Tags:     ptr([]string{"New", "new", " x "}),
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", updated.Filename)
	assert.Equal(t, []string{"new", "x"}, updated.Tags)

	got, err := env.files.Get(ctx, rec.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", got.Filename)

	// Тот же самый filename — не конфликт
	_, err = env.files.Update(ctx, rec.ID, "alice", UpdateParams{Filename: ptr("renamed.txt")})
	assert.NoError(t, err)

	_, err = env.files.Update(ctx, rec.ID, "alice", UpdateParams{Filename: ptr("taken.txt")})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, ReasonFilenameExists, ReasonOf(err))

	_, err = env.files.Update(ctx, rec.ID, "alice", UpdateParams{Filename: ptr("bad/name")})
	assert.ErrorIs(t, err, ErrValidation)

	// Пустой список тегов очищает теги
	updated, err = env.files.Update(ctx, rec.ID, "alice", UpdateParams{Tags: ptr([]string{})})
	require.NoError(t, err)
	assert.Empty(t, updated.Tags)
}

// TestUpdateDelete_Authorization — Forbidden только для видимых чужих файлов.
func TestUpdateDelete_Authorization(t *testing.T) {
	env := newTestEnv(t)
	priv := env.mustUpload(t, "alice", "priv.txt", "1", model.VisibilityPrivate)
	pub := env.mustUpload(t, "alice", "pub.txt", "2", model.VisibilityPublic)
	ctx := context.Background()

	_, err := env.files.Update(ctx, pub.ID, "bob", UpdateParams{Filename: ptr("x.txt")})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.files.Update(ctx, priv.ID, "bob", UpdateParams{Filename: ptr("x.txt")})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, env.files.Delete(ctx, pub.ID, "bob"), ErrForbidden)
	assert.ErrorIs(t, env.files.Delete(ctx, priv.ID, "bob"), ErrNotFound)
	assert.ErrorIs(t, env.files.Delete(ctx, pub.ID, ""), ErrForbidden)

	assert.Equal(t, 2, env.repo.Count(), "записи не должны быть удалены")
	assert.Equal(t, 2, env.store.Len(), "blob-ы не должны быть удалены")
}

// TestDelete — удаляются и метаданные, и blob.
func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	rec := env.mustUpload(t, "alice", "a.txt", "hello", model.VisibilityPublic)
	ctx := context.Background()

	// Прогреваем кэш
	_, err := env.files.Get(ctx, rec.ID, "bob")
	require.NoError(t, err)

	require.NoError(t, env.files.Delete(ctx, rec.ID, "alice"))
	assert.Equal(t, 0, env.repo.Count())
	assert.Equal(t, 0, env.store.Len())

	_, err = env.files.Get(ctx, rec.ID, "bob")
	assert.ErrorIs(t, err, ErrNotFound, "удалённый файл не должен отдаваться из кэша")
	assert.ErrorIs(t, env.files.Delete(ctx, rec.ID, "alice"), ErrNotFound)

	// Освободившиеся имя и содержимое можно загрузить снова
	env.mustUpload(t, "alice", "a.txt", "hello", model.VisibilityPrivate)
}

// TestDelete_ConcurrentRemoval — запись исчезла между проверкой и удалением.
func TestDelete_ConcurrentRemoval(t *testing.T) {
	base := newTestEnv(t)
	repo := &faultyRepo{
		FileRepository: base.repo,
		deleteOwnedFn: func(context.Context, string, string) error {
			return repository.ErrNotFound
		},
	}
	env := newTestEnvWith(t, repo, base.store, UploadOptions{})
	rec := env.mustUpload(t, "alice", "a.txt", "x", model.VisibilityPrivate)

	err := env.files.Delete(context.Background(), rec.ID, "alice")
	assert.ErrorIs(t, err, ErrInternal)
}

// TestDelete_BlobFailure — ошибка удаления blob-а сохраняет метаданные.
func TestDelete_BlobFailure(t *testing.T) {
	base := newTestEnv(t)
	store := &faultyStore{MemoryStore: base.store}
	env := newTestEnvWith(t, base.repo, store, UploadOptions{})
	rec := env.mustUpload(t, "alice", "a.txt", "x", model.VisibilityPrivate)

	store.deleteFn = func(context.Context, string) error { return errors.New("permission denied") }

	err := env.files.Delete(context.Background(), rec.ID, "alice")
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 1, base.repo.Count())
}

// TestDownload — содержимое и заголовки для видимого файла.
func TestDownload(t *testing.T) {
	env := newTestEnv(t)
	rec := env.mustUpload(t, "alice", "page.html", "<p>hi</p>", model.VisibilityPublic)
	priv := env.mustUpload(t, "alice", "priv.pdf", "%PDF", model.VisibilityPrivate)
	ctx := context.Background()

	dl, err := env.files.Download(ctx, rec.ID, "bob")
	require.NoError(t, err)
	defer dl.Reader.Close()

	data, err := io.ReadAll(dl.Reader)
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(data))
	assert.Equal(t, "text/html", dl.ContentType)
	assert.Equal(t, int64(9), dl.Size)
	assert.Equal(t, "page.html", dl.Filename)

	_, err = env.files.Download(ctx, priv.ID, "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	dl, err = env.files.Download(ctx, priv.ID, "alice")
	require.NoError(t, err)
	dl.Reader.Close()
	assert.Equal(t, "application/pdf", dl.ContentType)
}

// TestDownload_BlobMissing — метаданные есть, blob пропал → NotFound.
func TestDownload_BlobMissing(t *testing.T) {
	env := newTestEnv(t)
	rec := env.mustUpload(t, "alice", "a.txt", "x", model.VisibilityPrivate)
	require.NoError(t, env.store.Delete(context.Background(), rec.ContentHandle))

	_, err := env.files.Download(context.Background(), rec.ID, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestDownload_OpenFailure — прочие ошибки хранилища → IOFailure.
func TestDownload_OpenFailure(t *testing.T) {
	base := newTestEnv(t)
	store := &faultyStore{
		MemoryStore: base.store,
		openFn: func(context.Context, string) (io.ReadCloser, error) {
			return nil, errors.New("connection refused")
		},
	}
	env := newTestEnvWith(t, base.repo, store, UploadOptions{})
	// Загрузка через базовое хранилище: дайджест читает blob через Open
	rec := base.mustUpload(t, "alice", "a.txt", "x", model.VisibilityPrivate)

	_, err := env.files.Download(context.Background(), rec.ID, "alice")
	assert.ErrorIs(t, err, ErrIO)
}

func filenames(recs []*model.FileRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Filename)
	}
	return out
}

// pausingRepo останавливает одно чтение GetVisible после обращения к
// хранилищу, пока тест не разрешит продолжить.
type pausingRepo struct {
	repository.FileRepository
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func newPausingRepo(base repository.FileRepository) *pausingRepo {
	return &pausingRepo{
		FileRepository: base,
		read:           make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (r *pausingRepo) GetVisible(ctx context.Context, id, callerID string) (*model.FileRecord, error) {
	rec, err := r.FileRepository.GetVisible(ctx, id, callerID)
	if r.armed.CompareAndSwap(true, false) {
		close(r.read)
		<-r.release
	}
	return rec, err
}

type getResult struct {
	rec *model.FileRecord
	err error
}

// startPausedGet запускает Get, который прочитал запись, но ещё не вернул её.
func startPausedGet(env *testEnv, repo *pausingRepo, id, callerID string) <-chan getResult {
	repo.armed.Store(true)
	done := make(chan getResult, 1)
	go func() {
		rec, err := env.files.Get(context.Background(), id, callerID)
		done <- getResult{rec, err}
	}()
	<-repo.read
	return done
}

// TestGet_DeleteDuringRead — чтение, начатое до удаления, не возвращает
// удалённую запись в кэш.
func TestGet_DeleteDuringRead(t *testing.T) {
	repo := newPausingRepo(repository.NewMemoryRepository(testLogger()))
	env := newTestEnvWith(t, repo, nil, UploadOptions{})
	rec := env.mustUpload(t, "alice", "a.txt", "x", model.VisibilityPrivate)
	ctx := context.Background()

	done := startPausedGet(env, repo, rec.ID, "alice")
	require.NoError(t, env.files.Delete(ctx, rec.ID, "alice"))
	close(repo.release)

	first := <-done
	require.NoError(t, first.err, "чтение до удаления должно завершиться успешно")

	_, err := env.files.Get(ctx, rec.ID, "alice")
	assert.ErrorIs(t, err, ErrNotFound, "ожидалось, что удалённый файл не отдаётся из кэша")

	_, err = env.files.Download(ctx, rec.ID, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestGet_UpdateDuringRead — после параллельного переименования
// читается новое имя, а не копия из прерванного чтения.
func TestGet_UpdateDuringRead(t *testing.T) {
	repo := newPausingRepo(repository.NewMemoryRepository(testLogger()))
	env := newTestEnvWith(t, repo, nil, UploadOptions{})
	rec := env.mustUpload(t, "alice", "a.txt", "x", model.VisibilityPrivate)
	ctx := context.Background()

	done := startPausedGet(env, repo, rec.ID, "alice")
	_, err := env.files.Update(ctx, rec.ID, "alice", UpdateParams{Filename: ptr("b.txt")})
	require.NoError(t, err)
	close(repo.release)

	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, "a.txt", first.rec.Filename)

	got, err := env.files.Get(ctx, rec.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "b.txt", got.Filename, "ожидалось имя после переименования")
}
