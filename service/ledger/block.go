package ledger

import (
	"context"
	"errors"
	"studiobook/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func loadBlock(tx *gorm.DB, id uint) (*db.Block, error) {
	var block db.Block
	err := tx.Preload("User").Preload("BlockType.EventType").Preload("Parent.BlockType").First(&block, id).Error
	if err != nil {
		return nil, db.NotFound(err, "block %d", id)
	}
	return &block, nil
}

// CreateBlock starts a new block for the user. A free class block given with a parent shares the
// parent's dates.
func (service *Service) CreateBlock(ctx context.Context, userID, blockTypeID uint, parentID *uint) (*db.Block, error) {
	conn := service.db.WithContext(ctx)

	var blockType db.BlockType
	if err := conn.First(&blockType, blockTypeID).Error; err != nil {
		return nil, db.NotFound(err, "block type %d", blockTypeID)
	}

	block := db.Block{UserID: userID, BlockTypeID: blockTypeID, ParentID: parentID}
	if blockType.Cost.IsZero() {
		block.Paid = true
	}
	if err := conn.Omit(clause.Associations).Create(&block).Error; err != nil {
		return nil, err
	}
	return loadBlock(conn, block.ID)
}

// DeleteBlock removes a block. Its bookings survive as unpaid bookings.
func (service *Service) DeleteBlock(ctx context.Context, blockID uint) error {
	return service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var block db.Block
		if err := tx.First(&block, blockID).Error; err != nil {
			return db.NotFound(err, "block %d", blockID)
		}
		return tx.Delete(&block).Error
	})
}

// Blocks of a user with their booking counts
func (service *Service) UserBlocks(ctx context.Context, userID uint) ([]db.Block, map[uint]int64, error) {
	conn := service.db.WithContext(ctx)

	var blocks []db.Block
	err := conn.Preload("BlockType.EventType").Preload("Parent.BlockType").
		Where("user_id = ?", userID).Order("start_date DESC").Find(&blocks).Error
	if err != nil {
		return nil, nil, err
	}

	counts := make(map[uint]int64, len(blocks))
	for _, block := range blocks {
		count, err := db.BlockBookingCount(conn, block.ID)
		if err != nil {
			return nil, nil, err
		}
		counts[block.ID] = count
	}
	return blocks, counts, nil
}

// One row of the bookings edited on a block in the admin
type BlockBookingChange struct {
	BookingID uint // 0 for a new booking on the block
	EventID   uint // For a new booking
	Cancel    bool
}

// SaveBlockBookings applies admin edits to the bookings of a block:
// a booking added to the block is paid and confirmed (and reopened if the user had cancelled it),
// a booking cancelled on the block loses the block and goes back to unpaid.
func (service *Service) SaveBlockBookings(ctx context.Context, blockID uint, changes []BlockBookingChange) ([]db.Booking, error) {
	var saved []uint

	err := service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var block db.Block
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&block, blockID).Error; err != nil {
			return db.NotFound(err, "block %d", blockID)
		}

		for _, change := range changes {
			var booking db.Booking
			if change.BookingID != 0 {
				if err := tx.First(&booking, change.BookingID).Error; err != nil {
					return db.NotFound(err, "booking %d", change.BookingID)
				}
			} else {
				if _, err := lockEvent(tx, change.EventID); err != nil {
					return err
				}
				err := tx.Where("user_id = ? AND event_id = ?", block.UserID, change.EventID).First(&booking).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					booking = db.Booking{UserID: block.UserID, EventID: change.EventID}
				} else if err != nil {
					return err
				}
				booking.Status = db.BookingOpen
				booking.BlockID = &block.ID
				booking.Paid = true
				booking.PaymentConfirmed = true
			}

			if change.Cancel {
				booking.Status = db.BookingCancelled
			}
			if err := saveBooking(tx, &booking); err != nil {
				return err
			}
			saved = append(saved, booking.ID)
		}
		return nil
	})
	if err != nil {
		recordCapacity(err, "event")
		return nil, err
	}

	var bookings []db.Booking
	if len(saved) == 0 {
		return bookings, nil
	}
	err = service.db.WithContext(ctx).Preload("Event").Preload("User").Where("id IN ?", saved).Order("id").Find(&bookings).Error
	return bookings, err
}
