package storage

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	ilog "cdpdrive/internal/logger"
	"cdpdrive/internal/netmgr"
)

// Record 一条已完成（或失败）请求的落库记录
type Record struct {
	ID            uint   `gorm:"primaryKey"`
	RequestURL    string `gorm:"index"`
	Method        string
	ResourceType  string
	FrameID       string
	IsNavigation  bool
	FromCache     bool
	RedirectHops  int
	Status        int
	MimeType      string
	RemoteIP      string
	EncodedLength float64
	FailureText   string
	CreatedAt     time.Time `gorm:"index"`
}

// Archive 请求归档存储，订阅网络事件并写入 sqlite
type Archive struct {
	db   *gorm.DB
	log  ilog.Logger
	subs []subscription
}

type subscription struct {
	mgr *netmgr.Manager
	id  string
}

// Open 打开（必要时创建）归档数据库
func Open(dsn string, l ilog.Logger) (*Archive, error) {
	if l == nil {
		l = ilog.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(l),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &Archive{db: db, log: l}, nil
}

// Attach 订阅管理器的完成与失败事件，逐条落库。
// 落库失败只记日志，不影响事件分发。
func (a *Archive) Attach(m *netmgr.Manager) {
	a.subs = append(a.subs,
		subscription{m, m.OnRequestFinished(func(r *netmgr.Request) { a.save(r, "") })},
		subscription{m, m.OnRequestFailed(func(r *netmgr.Request) { a.save(r, r.Failure()) })},
	)
}

// Detach 取消全部订阅
func (a *Archive) Detach() {
	for _, s := range a.subs {
		s.mgr.Off(s.id)
	}
	a.subs = nil
}

func (a *Archive) save(r *netmgr.Request, failure string) {
	rec := Record{
		RequestURL:   r.URL(),
		Method:       r.Method(),
		ResourceType: r.ResourceType(),
		FrameID:      r.FrameID(),
		IsNavigation: r.IsNavigationRequest(),
		FromCache:    r.FromCache(),
		RedirectHops: len(r.RedirectChain()),
		FailureText:  failure,
	}
	if resp := r.Response(); resp != nil {
		rec.Status = resp.Status()
		rec.MimeType = resp.MimeType()
		rec.RemoteIP, _ = resp.RemoteAddress()
		rec.EncodedLength = resp.EncodedDataLength()
	}
	if err := a.db.Create(&rec).Error; err != nil {
		a.log.Err(err, "归档写入失败", "url", rec.RequestURL)
	}
}

// Recent 返回最近 n 条归档记录
func (a *Archive) Recent(n int) ([]Record, error) {
	var out []Record
	err := a.db.Order("id desc").Limit(n).Find(&out).Error
	return out, err
}

// CountByStatus 按状态码统计归档数量
func (a *Archive) CountByStatus(status int) (int64, error) {
	var n int64
	err := a.db.Model(&Record{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

// Close 关闭底层数据库连接
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
