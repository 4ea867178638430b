package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
)

var baseTime = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newWorkshop(capacity int, start time.Time, active bool) *domain.Workshop {
	return &domain.Workshop{
		ID:        uuid.NewString(),
		Title:     "Concurrency in Go",
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
		Capacity:  capacity,
		Active:    active,
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

func newRegistration(workshopID, userID string, status domain.RegistrationStatus, position int, at time.Time) *domain.Registration {
	return &domain.Registration{
		ID:               uuid.NewString(),
		WorkshopID:       workshopID,
		UserID:           userID,
		Status:           status,
		WaitlistPosition: position,
		RegistrationTime: at,
		UpdatedAt:        at,
	}
}

// runStoreContract exercises behavior every Store adapter must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("workshop lifecycle", func(t *testing.T) {
		s := newStore(t)
		w := newWorkshop(2, baseTime.Add(48*time.Hour), true)
		require.NoError(t, s.CreateWorkshop(ctx, w))

		got, err := s.GetWorkshop(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, w.Title, got.Title)
		assert.Equal(t, 2, got.Capacity)

		deleteWorkshop := func(fail error) error {
			return s.InWorkshopTx(ctx, w.ID, func(tx WorkshopTx) error {
				if err := tx.DeleteWorkshop(ctx); err != nil {
					return err
				}
				return fail
			})
		}

		require.NoError(t, s.InWorkshopTx(ctx, w.ID, func(tx WorkshopTx) error {
			return tx.Insert(ctx, newRegistration(w.ID, "a", domain.StatusConfirmed, 0, baseTime))
		}))

		errAbort := errors.New("abort")
		assert.Equal(t, errAbort, deleteWorkshop(errAbort))
		regs, err := s.ListRegistrations(ctx, w.ID)
		require.NoError(t, err)
		assert.Len(t, regs, 1)

		require.NoError(t, deleteWorkshop(nil))
		_, err = s.GetWorkshop(ctx, w.ID)
		assert.ErrorIs(t, err, domain.ErrWorkshopNotFound)
		_, err = s.ListRegistrations(ctx, w.ID)
		assert.ErrorIs(t, err, domain.ErrWorkshopNotFound)
		userRegs, err := s.ListUserRegistrations(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, userRegs)
		assert.ErrorIs(t, deleteWorkshop(nil), domain.ErrWorkshopNotFound)
	})

	t.Run("list workshops filters and orders", func(t *testing.T) {
		s := newStore(t)
		later := newWorkshop(1, baseTime.Add(72*time.Hour), true)
		sooner := newWorkshop(1, baseTime.Add(24*time.Hour), true)
		inactive := newWorkshop(1, baseTime.Add(48*time.Hour), false)
		for _, w := range []*domain.Workshop{later, sooner, inactive} {
			require.NoError(t, s.CreateWorkshop(ctx, w))
		}

		active, err := s.ListWorkshops(ctx, WorkshopFilter{ActiveOnly: true})
		require.NoError(t, err)
		ids := workshopIDs(active)
		assert.Contains(t, ids, sooner.ID)
		assert.Contains(t, ids, later.ID)
		assert.NotContains(t, ids, inactive.ID)
		assert.Less(t, indexOf(ids, sooner.ID), indexOf(ids, later.ID))

		after := baseTime.Add(36 * time.Hour)
		before := baseTime.Add(60 * time.Hour)
		window, err := s.ListWorkshops(ctx, WorkshopFilter{StartsAfter: &after, StartsBefore: &before})
		require.NoError(t, err)
		assert.Contains(t, workshopIDs(window), inactive.ID)
		assert.NotContains(t, workshopIDs(window), sooner.ID)
	})

	t.Run("tx on missing workshop", func(t *testing.T) {
		s := newStore(t)
		err := s.InWorkshopTx(ctx, uuid.NewString(), func(tx WorkshopTx) error { return nil })
		assert.ErrorIs(t, err, domain.ErrWorkshopNotFound)
	})

	t.Run("registration queries", func(t *testing.T) {
		s := newStore(t)
		w := newWorkshop(2, baseTime.Add(48*time.Hour), true)
		require.NoError(t, s.CreateWorkshop(ctx, w))

		deadline := baseTime.Add(15 * time.Minute)
		require.NoError(t, s.InWorkshopTx(ctx, w.ID, func(tx WorkshopTx) error {
			assert.Equal(t, w.ID, tx.Workshop().ID)

			regs := []*domain.Registration{
				newRegistration(w.ID, "a", domain.StatusConfirmed, 0, baseTime),
				newRegistration(w.ID, "b", domain.StatusConfirmed, 0, baseTime.Add(time.Second)),
				newRegistration(w.ID, "c", domain.StatusWaitlisted, 1, baseTime.Add(2*time.Second)),
				newRegistration(w.ID, "d", domain.StatusWaitlisted, 2, baseTime.Add(3*time.Second)),
				newRegistration(w.ID, "e", domain.StatusWaitlisted, 3, baseTime.Add(4*time.Second)),
			}
			regs[3].OpenWindow(deadline, baseTime)
			for _, r := range regs {
				if err := tx.Insert(ctx, r); err != nil {
					return err
				}
			}
			return nil
		}))

		err := s.InWorkshopTx(ctx, w.ID, func(tx WorkshopTx) error {
			return tx.Insert(ctx, newRegistration(w.ID, "a", domain.StatusWaitlisted, 4, baseTime))
		})
		assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)

		require.NoError(t, s.InWorkshopTx(ctx, w.ID, func(tx WorkshopTx) error {
			n, err := tx.CountConfirmed(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			highest, err := tx.MaxWaitlistPosition(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, highest)

			confirmed, err := tx.Confirmed(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, userIDs(confirmed))

			waitlist, err := tx.Waitlist(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "d", "e"}, userIDs(waitlist))

			expired, err := tx.ExpiredPending(ctx, deadline.Add(-time.Second))
			require.NoError(t, err)
			assert.Empty(t, expired)

			expired, err = tx.ExpiredPending(ctx, deadline)
			require.NoError(t, err)
			assert.Equal(t, []string{"d"}, userIDs(expired))

			_, err = tx.Get(ctx, "nobody")
			assert.ErrorIs(t, err, domain.ErrRegistrationNotFound)
			return nil
		}))
	})

	t.Run("delete and shift keeps positions contiguous", func(t *testing.T) {
		s := newStore(t)
		w := newWorkshop(1, baseTime.Add(48*time.Hour), true)
		require.NoError(t, s.CreateWorkshop(ctx, w))

		require.NoError(t, s.InWorkshopTx(ctx, w.ID, func(tx WorkshopTx) error {
			for i, u := range []string{"p1", "p2", "p3", "p4"} {
				if err := tx.Insert(ctx, newRegistration(w.ID, u, domain.StatusWaitlisted, i+1, baseTime.Add(time.Duration(i)*time.Second))); err != nil {
					return err
				}
			}
			return nil
		}))

		require.NoError(t, s.InWorkshopTx(ctx, w.ID, func(tx WorkshopTx) error {
			r, err := tx.Get(ctx, "p2")
			if err != nil {
				return err
			}
			if err := tx.Delete(ctx, r.ID); err != nil {
				return err
			}
			return tx.ShiftWaitlistAfter(ctx, r.WaitlistPosition)
		}))

		regs, err := s.ListRegistrations(ctx, w.ID)
		require.NoError(t, err)
		positions := map[string]int{}
		for _, r := range regs {
			positions[r.UserID] = r.WaitlistPosition
		}
		assert.Equal(t, map[string]int{"p1": 1, "p3": 2, "p4": 3}, positions)
	})

	t.Run("failed tx rolls back", func(t *testing.T) {
		s := newStore(t)
		w := newWorkshop(1, baseTime.Add(48*time.Hour), true)
		require.NoError(t, s.CreateWorkshop(ctx, w))

		boom := errors.New("boom")
		err := s.InWorkshopTx(ctx, w.ID, func(tx WorkshopTx) error {
			if err := tx.Insert(ctx, newRegistration(w.ID, "u", domain.StatusConfirmed, 0, baseTime)); err != nil {
				return err
			}
			updated := tx.Workshop().Clone()
			updated.Capacity = 10
			if err := tx.UpdateWorkshop(ctx, updated); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		regs, err := s.ListRegistrations(ctx, w.ID)
		require.NoError(t, err)
		assert.Empty(t, regs)

		got, err := s.GetWorkshop(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Capacity)
	})

	t.Run("save updates and user listing", func(t *testing.T) {
		s := newStore(t)
		w1 := newWorkshop(1, baseTime.Add(24*time.Hour), true)
		w2 := newWorkshop(1, baseTime.Add(48*time.Hour), true)
		require.NoError(t, s.CreateWorkshop(ctx, w1))
		require.NoError(t, s.CreateWorkshop(ctx, w2))

		user := "user-" + uuid.NewString()
		require.NoError(t, s.InWorkshopTx(ctx, w1.ID, func(tx WorkshopTx) error {
			return tx.Insert(ctx, newRegistration(w1.ID, user, domain.StatusWaitlisted, 1, baseTime))
		}))
		require.NoError(t, s.InWorkshopTx(ctx, w2.ID, func(tx WorkshopTx) error {
			return tx.Insert(ctx, newRegistration(w2.ID, user, domain.StatusConfirmed, 0, baseTime.Add(time.Minute)))
		}))

		require.NoError(t, s.InWorkshopTx(ctx, w1.ID, func(tx WorkshopTx) error {
			r, err := tx.Get(ctx, user)
			if err != nil {
				return err
			}
			r.Confirm(baseTime.Add(time.Hour))
			r.MarkAttendance(true, "admin", baseTime.Add(time.Hour))
			return tx.Save(ctx, r)
		}))

		mine, err := s.ListUserRegistrations(ctx, user)
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, w2.ID, mine[0].WorkshopID)
		assert.Equal(t, domain.StatusConfirmed, mine[1].Status)
		assert.Zero(t, mine[1].WaitlistPosition)
		assert.True(t, mine[1].Attended)
		assert.Equal(t, "admin", mine[1].MarkedByUserID)
	})

	t.Run("transactions on one workshop are serialized", func(t *testing.T) {
		s := newStore(t)
		w := newWorkshop(1, baseTime.Add(48*time.Hour), true)
		require.NoError(t, s.CreateWorkshop(ctx, w))

		const n = 10
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.InWorkshopTx(ctx, w.ID, func(tx WorkshopTx) error {
					highest, err := tx.MaxWaitlistPosition(ctx)
					if err != nil {
						return err
					}
					return tx.Insert(ctx, newRegistration(w.ID, uuid.NewString(), domain.StatusWaitlisted, highest+1, baseTime))
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		regs, err := s.ListRegistrations(ctx, w.ID)
		require.NoError(t, err)
		seen := map[int]bool{}
		for _, r := range regs {
			seen[r.WaitlistPosition] = true
		}
		assert.Len(t, seen, n)
		for p := 1; p <= n; p++ {
			assert.True(t, seen[p], "position %d missing", p)
		}
	})
}

func workshopIDs(ws []*domain.Workshop) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.ID
	}
	return out
}

func userIDs(regs []*domain.Registration) []string {
	out := make([]string, len(regs))
	for i, r := range regs {
		out[i] = r.UserID
	}
	return out
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
