package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/party-room-system/pkg/models"
)

type DB struct {
	*gorm.DB
}

// NewMySQL opens the production MySQL store.
func NewMySQL(host, port, user, password, dbname string) (*DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)
	return open(mysql.Open(dsn))
}

// NewSQLite opens a file-backed store for local development and tests.
// Use ":memory:" for an ephemeral database.
func NewSQLite(path string) (*DB, error) {
	return open(sqlite.Open(path))
}

func open(dialector gorm.Dialector) (*DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &DB{DB: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.Participant{},
		&models.Vote{},
	)
}

// User operations

func (db *DB) UpsertUserBySpotifyID(user *models.User) error {
	var existing models.User
	result := db.First(&existing, "spotify_id = ?", user.SpotifyID)

	if result.Error == gorm.ErrRecordNotFound {
		if user.ID == uuid.Nil {
			user.ID = uuid.New()
		}
		user.CreatedAt = time.Now()
		user.UpdatedAt = time.Now()
		return db.Create(user).Error
	}
	if result.Error != nil {
		return result.Error
	}

	existing.DisplayName = user.DisplayName
	existing.Email = user.Email
	existing.AccessToken = user.AccessToken
	existing.RefreshToken = user.RefreshToken
	existing.UpdatedAt = time.Now()
	if err := db.Save(&existing).Error; err != nil {
		return err
	}
	*user = existing
	return nil
}

func (db *DB) GetUserByID(id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *DB) GetUserBySpotifyID(spotifyID string) (*models.User, error) {
	var user models.User
	if err := db.First(&user, "spotify_id = ?", spotifyID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Room operations

func (db *DB) CreateRoom(room *models.Room) error {
	return db.Create(room).Error
}

func (db *DB) GetRoomByCode(code string) (*models.Room, error) {
	var room models.Room
	if err := db.First(&room, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (db *DB) UpdateRoom(room *models.Room) error {
	return db.Save(room).Error
}

// Participant operations

func (db *DB) AddParticipant(p *models.Participant) error {
	return db.Create(p).Error
}

func (db *DB) IsParticipant(roomID, userID uuid.UUID) (bool, error) {
	var count int64
	if err := db.Model(&models.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetParticipants returns the room's participants ordered by join time.
// The head of the list is the host.
func (db *DB) GetParticipants(roomID uuid.UUID) ([]*models.Participant, error) {
	var parts []*models.Participant
	if err := db.Where("room_id = ?", roomID).
		Order("joined_at ASC, id ASC").
		Find(&parts).Error; err != nil {
		return nil, err
	}
	return parts, nil
}

// Vote operations

// UpsertVote stores a vote, replacing any prior vote by the same user for
// the same track in the same room.
func (db *DB) UpsertVote(vote *models.Vote) error {
	var existing models.Vote
	result := db.Where("room_id = ? AND user_id = ? AND track_uri = ?",
		vote.RoomID, vote.UserID, vote.TrackURI).First(&existing)

	if result.Error == gorm.ErrRecordNotFound {
		return db.Create(vote).Error
	}
	if result.Error != nil {
		return result.Error
	}

	existing.IsLike = vote.IsLike
	return db.Save(&existing).Error
}

func (db *DB) CountLikes(roomID uuid.UUID, trackURI string) (int, error) {
	var count int64
	if err := db.Model(&models.Vote{}).
		Where("room_id = ? AND track_uri = ? AND is_like = ?", roomID, trackURI, true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteVotesForTrack clears the tally when a round ends.
func (db *DB) DeleteVotesForTrack(roomID uuid.UUID, trackURI string) error {
	return db.Where("room_id = ? AND track_uri = ?", roomID, trackURI).
		Delete(&models.Vote{}).Error
}
