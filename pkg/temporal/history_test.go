package temporal_test

import (
	"context"
	"time"

	"github.com/flightctl/temporal/pkg/temporal"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ = Describe("History default mode", func() {
	var (
		ctx   context.Context
		tdb   *testDB
		db    *gorm.DB
		users *temporal.History
	)

	BeforeEach(func() {
		ctx = context.Background()
		tdb = prepareDB(ctx)
		db = tdb.db

		var err error
		users, err = temporal.Attach(db, &User{}, temporal.NewDefaultConfig())
		Expect(err).ToNot(HaveOccurred())
		Expect(db.AutoMigrate(&User{})).To(Succeed())
		Expect(users.AutoMigrate(ctx)).To(Succeed())
	})

	AfterEach(func() {
		tdb.delete(ctx)
	})

	Context("hooks", func() {
		It("does not archive on create", func() {
			Expect(db.Create(&User{Name: "test"}).Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeZero())
		})

		It("archives on update and on delete", func() {
			user := User{}
			Expect(db.Create(&user).Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeZero())

			user.Name = "foo"
			Expect(db.Save(&user).Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeEquivalentTo(1))

			Expect(db.Delete(&user).Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeEquivalentTo(2))
		})

		It("stores the previous version on update", func() {
			user := User{Name: "foo"}
			Expect(db.Create(&user).Error).ToNot(HaveOccurred())

			Expect(db.Model(&user).Update("name", "bar").Error).ToNot(HaveOccurred())

			records, err := users.Find(ctx, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Entity.(*User).Name).To(Equal("foo"))
			Expect(records[0].Entity.(*User).ID).To(Equal(user.ID))
			Expect(records[0].ID).ToNot(BeZero())
			Expect(records[0].ArchivedAt).To(BeTemporally("~", time.Now(), 5*time.Second))

			var current User
			Expect(db.First(&current, user.ID).Error).ToNot(HaveOccurred())
			Expect(current.Name).To(Equal("bar"))
		})

		It("stores the previous version on delete", func() {
			user := User{Name: "foo"}
			Expect(db.Create(&user).Error).ToNot(HaveOccurred())
			Expect(db.Delete(&user).Error).ToNot(HaveOccurred())

			records, err := users.Find(ctx, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Entity.(*User).Name).To(Equal("foo"))
		})

		It("keeps records in archival order and filters them", func() {
			user := User{Name: "v1"}
			Expect(db.Create(&user).Error).ToNot(HaveOccurred())
			Expect(db.Model(&user).Update("name", "v2").Error).ToNot(HaveOccurred())
			Expect(db.Model(&user).Update("name", "v3").Error).ToNot(HaveOccurred())

			records, err := users.Find(ctx, nil, "id = ?", user.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(records[0].Entity.(*User).Name).To(Equal("v1"))
			Expect(records[1].Entity.(*User).Name).To(Equal("v2"))
			Expect(records[0].ID).To(BeNumerically("<", records[1].ID))

			first, err := users.First(ctx, nil, "name = ?", "v2")
			Expect(err).ToNot(HaveOccurred())
			Expect(first.ID).To(Equal(records[1].ID))

			_, err = users.First(ctx, nil, "name = ?", "v3")
			Expect(err).To(MatchError(temporal.ErrRecordNotFound))
		})

		It("writes the archived columns into the history table", func() {
			user := User{Name: "foo"}
			Expect(db.Create(&user).Error).ToNot(HaveOccurred())
			Expect(db.Model(&user).Update("name", "bar").Error).ToNot(HaveOccurred())
			Expect(db.Save(&user).Error).ToNot(HaveOccurred())

			var rows []map[string]interface{}
			Expect(db.Table(users.Table()).Order("hid").Find(&rows).Error).ToNot(HaveOccurred())
			Expect(rows).To(HaveLen(2))
			Expect(rows[0]).To(HaveKeyWithValue("id", BeEquivalentTo(user.ID)))
			Expect(rows[0]).To(HaveKeyWithValue("name", "foo"))
			Expect(rows[0]["archivedAt"]).ToNot(BeNil())
			Expect(rows[0]["created_at"]).ToNot(BeNil())
			Expect(rows[1]).To(HaveKeyWithValue("name", "bar"))
		})

		It("archives updates and deletes issued through the table name", func() {
			user := User{Name: "foo"}
			Expect(db.Create(&user).Error).ToNot(HaveOccurred())

			result := db.Table("users").Where("name = ?", "foo").Update("name", "bar")
			Expect(result.Error).ToNot(HaveOccurred())
			Expect(result.RowsAffected).To(BeEquivalentTo(1))
			Expect(countOf(ctx, users, nil)).To(BeEquivalentTo(1))

			result = db.Table("users").Where("id = ?", user.ID).Delete(map[string]interface{}{})
			Expect(result.Error).ToNot(HaveOccurred())
			Expect(result.RowsAffected).To(BeEquivalentTo(1))

			records, err := users.Find(ctx, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(records[0].Entity.(*User).Name).To(Equal("foo"))
			Expect(records[1].Entity.(*User).Name).To(Equal("bar"))
		})

		It("archives nothing when a delete matches no row", func() {
			Expect(db.Where("name = ?", "nobody").Delete(&User{}).Error).ToNot(HaveOccurred())
			Expect(db.Model(&User{}).Where("name = ?", "nobody").Update("name", "x").Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeZero())
		})
	})

	Context("transactions", func() {
		It("reverts history written inside a rolled back transaction", func() {
			tx := db.Begin()
			Expect(tx.Error).ToNot(HaveOccurred())

			user := User{}
			Expect(tx.Create(&user).Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, tx)).To(BeZero())

			user.Name = "foo"
			Expect(tx.Save(&user).Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, tx)).To(BeEquivalentTo(1))

			Expect(tx.Rollback().Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeZero())
		})

		It("keeps history written inside a committed transaction", func() {
			err := db.Transaction(func(tx *gorm.DB) error {
				user := User{Name: "foo"}
				if err := tx.Create(&user).Error; err != nil {
					return err
				}
				return tx.Model(&user).Update("name", "bar").Error
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeEquivalentTo(1))
		})
	})

	Context("bulk update", func() {
		BeforeEach(func() {
			Expect(db.Create(&[]User{{Name: "foo1"}, {Name: "foo2"}}).Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeZero())
		})

		It("archives every matched entry", func() {
			Expect(db.Model(&User{}).Where("1 = 1").Update("name", "updated-foo").Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeEquivalentTo(2))

			records, err := users.Find(ctx, nil)
			Expect(err).ToNot(HaveOccurred())
			names := []string{records[0].Entity.(*User).Name, records[1].Entity.(*User).Name}
			Expect(names).To(ConsistOf("foo1", "foo2"))
		})

		It("archives only the matched entries", func() {
			Expect(db.Model(&User{}).Where("name = ?", "foo1").Update("name", "updated-foo").Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeEquivalentTo(1))
		})

		It("reverts under transactions", func() {
			tx := db.Begin()
			Expect(tx.Model(&User{}).Where("1 = 1").Update("name", "updated-foo").Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, tx)).To(BeEquivalentTo(2))
			Expect(tx.Rollback().Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeZero())
		})

		It("archives nothing for an update gorm refuses", func() {
			err := db.Model(&User{}).Update("name", "updated-foo").Error
			Expect(err).To(MatchError(gorm.ErrMissingWhereClause))
			Expect(countOf(ctx, users, nil)).To(BeZero())
		})
	})

	Context("bulk destroy and truncate", func() {
		BeforeEach(func() {
			Expect(db.Create(&[]User{{Name: "foo1"}, {Name: "foo2"}}).Error).ToNot(HaveOccurred())
		})

		It("archives every entry of a truncated table", func() {
			Expect(db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&User{}).Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeEquivalentTo(2))

			var remaining int64
			Expect(db.Model(&User{}).Count(&remaining).Error).ToNot(HaveOccurred())
			Expect(remaining).To(BeZero())
		})

		It("archives entries deleted by primary key", func() {
			var first User
			Expect(db.Where("name = ?", "foo1").First(&first).Error).ToNot(HaveOccurred())
			Expect(db.Delete(&User{}, first.ID).Error).ToNot(HaveOccurred())

			records, err := users.Find(ctx, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Entity.(*User).Name).To(Equal("foo1"))
		})

		It("reverts under transactions", func() {
			tx := db.Begin()
			Expect(tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&User{}).Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, tx)).To(BeEquivalentTo(2))
			Expect(tx.Rollback().Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeZero())
		})
	})

	Context("read-only", func() {
		var recordID uint64

		BeforeEach(func() {
			user := User{Name: "foo"}
			Expect(db.Create(&user).Error).ToNot(HaveOccurred())
			Expect(db.Delete(&user).Error).ToNot(HaveOccurred())
			record, err := users.First(ctx, nil)
			Expect(err).ToNot(HaveOccurred())
			recordID = record.ID
		})

		It("forbids updates through the history model", func() {
			err := users.Query(ctx, nil).Where("hid = ?", recordID).Update("name", "bla").Error
			Expect(err).To(MatchError(temporal.ErrHistoryReadOnly))
			Expect(err.Error()).To(ContainSubstring("validation error"))

			record, err := users.First(ctx, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Entity.(*User).Name).To(Equal("foo"))
		})

		It("forbids updates through the table name", func() {
			err := db.Table(users.Table()).Where("hid = ?", recordID).Updates(map[string]interface{}{"name": "bla"}).Error
			Expect(err).To(MatchError(temporal.ErrHistoryReadOnly))
		})

		It("forbids deletes", func() {
			err := users.Query(ctx, nil).Where("hid = ?", recordID).Delete(users.New()).Error
			Expect(err).To(MatchError(temporal.ErrHistoryReadOnly))

			err = db.Table(users.Table()).Where("1 = 1").Delete(users.New()).Error
			Expect(err).To(MatchError(temporal.ErrHistoryReadOnly))
			Expect(countOf(ctx, users, nil)).To(BeEquivalentTo(1))
		})

		It("forbids upserts", func() {
			row := users.New()
			err := users.Query(ctx, nil).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
			Expect(err).To(MatchError(temporal.ErrHistoryReadOnly))

			err = db.Table(users.Table()).
				Clauses(clause.OnConflict{DoUpdates: clause.AssignmentColumns([]string{"name"})}).
				Create(users.New()).Error
			Expect(err).To(MatchError(temporal.ErrHistoryReadOnly))
			Expect(countOf(ctx, users, nil)).To(BeEquivalentTo(1))

			Expect(users.Query(ctx, nil).Clauses(clause.OnConflict{DoNothing: true}).Create(users.New()).Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeEquivalentTo(2))
		})

		It("allows direct inserts", func() {
			Expect(users.Query(ctx, nil).Create(users.New()).Error).ToNot(HaveOccurred())
			Expect(countOf(ctx, users, nil)).To(BeEquivalentTo(2))
		})
	})

	Context("restore", func() {
		It("fails for models that do not soft delete", func() {
			user := User{Name: "foo"}
			Expect(db.Create(&user).Error).ToNot(HaveOccurred())
			Expect(users.Restore(ctx, nil, &user)).To(MatchError(temporal.ErrNotSoftDeletable))
		})
	})
})

var _ = Describe("History interference with the tracked model", func() {
	var (
		ctx    context.Context
		tdb    *testDB
		db     *gorm.DB
		fruits *temporal.History
	)

	BeforeEach(func() {
		ctx = context.Background()
		tdb = prepareDB(ctx)
		db = tdb.db
		fruitCreateHooks.Store(0)
		fruitUpdateHooks.Store(0)
		fruitFindHooks.Store(0)

		var err error
		fruits, err = temporal.Attach(db, &Fruit{}, temporal.NewDefaultConfig())
		Expect(err).ToNot(HaveOccurred())
		Expect(db.AutoMigrate(&Fruit{})).To(Succeed())
		Expect(fruits.AutoMigrate(ctx)).To(Succeed())
	})

	AfterEach(func() {
		tdb.delete(ctx)
	})

	It("runs each model hook once", func() {
		fruit := Fruit{Name: "apple"}
		Expect(db.Create(&fruit).Error).ToNot(HaveOccurred())
		Expect(fruitCreateHooks.Load()).To(BeEquivalentTo(1))

		Expect(db.Model(&fruit).Update("name", "pear").Error).ToNot(HaveOccurred())
		Expect(fruitUpdateHooks.Load()).To(BeEquivalentTo(1))
		Expect(fruitFindHooks.Load()).To(BeZero())
		Expect(fruitCreateHooks.Load()).To(BeEquivalentTo(1))
	})

	It("archives the model defaults", func() {
		fruit := Fruit{Name: "apple"}
		Expect(db.Create(&fruit).Error).ToNot(HaveOccurred())
		Expect(db.Model(&fruit).Update("name", "pear").Error).ToNot(HaveOccurred())

		records, err := fruits.Find(ctx, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Entity.(*Fruit).Name).To(Equal("apple"))
		Expect(records[0].Entity.(*Fruit).Color).To(Equal("green"))
		Expect(fruitFindHooks.Load()).To(BeZero())
	})
})

var _ = Describe("History with constraints", func() {
	var (
		ctx     context.Context
		tdb     *testDB
		db      *gorm.DB
		members *temporal.History
	)

	BeforeEach(func() {
		ctx = context.Background()
		tdb = prepareDB(ctx)
		db = tdb.db

		var err error
		members, err = temporal.Attach(db, &Member{}, temporal.NewDefaultConfig())
		Expect(err).ToNot(HaveOccurred())
		Expect(db.AutoMigrate(&Member{})).To(Succeed())
		Expect(members.AutoMigrate(ctx)).To(Succeed())
	})

	AfterEach(func() {
		tdb.delete(ctx)
	})

	It("stores many versions of a uniquely indexed row", func() {
		member := Member{Name: "ann", Email: "ann@example.com"}
		Expect(db.Create(&member).Error).ToNot(HaveOccurred())
		Expect(db.Model(&member).Update("name", "anne").Error).ToNot(HaveOccurred())
		Expect(db.Model(&member).Update("name", "annie").Error).ToNot(HaveOccurred())

		records, err := members.Find(ctx, nil, "email = ?", "ann@example.com")
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(2))
	})

	It("does not carry the unique index to the history table", func() {
		Expect(db.Migrator().HasIndex(&Member{}, "idx_members_email")).To(BeTrue())
		Expect(db.Table(members.Table()).Migrator().HasIndex(members.New(), "idx_member_histories_email")).To(BeFalse())
		Expect(db.Table(members.Table()).Migrator().HasIndex(members.New(), "idx_members_email")).To(BeFalse())
	})

	It("archives soft deletes and reads them back unscoped", func() {
		member := Member{Name: "ann", Email: "ann@example.com"}
		Expect(db.Create(&member).Error).ToNot(HaveOccurred())
		Expect(db.Delete(&member).Error).ToNot(HaveOccurred())

		records, err := members.Find(ctx, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Entity.(*Member).DeletedAt.Valid).To(BeFalse())

		var count int64
		Expect(db.Unscoped().Model(&Member{}).Count(&count).Error).ToNot(HaveOccurred())
		Expect(count).To(BeEquivalentTo(1))
	})
})
