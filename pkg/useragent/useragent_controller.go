// Package useragent 提供桌面浏览器User-Agent池的管理
// UA池保存在MongoDB中，按权重随机选取；MongoDB不可用时退回默认UA
package useragent

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"screenshot_service/pkg/mongodb"

	"go.mongodb.org/mongo-driver/bson"
)

// UserAgent 定义单个UA的结构
type UserAgent struct {
	Value      string    `json:"value" bson:"value"`             // UA字符串
	Browser    string    `json:"browser" bson:"browser"`         // 浏览器类型：chrome/firefox/safari等
	OS         string    `json:"os" bson:"os"`                   // 操作系统：windows/macos/linux
	UpdateTime time.Time `json:"update_time" bson:"update_time"` // 更新时间
	Weight     int       `json:"weight" bson:"weight"`           // 使用权重
}

// UserAgentController UA管理器
type UserAgentController struct {
	mongoClient *mongodb.MongoClient // MongoDB客户端，为nil时仅使用默认UA
	config      Config               // 配置信息
	uaCache     []*UserAgent         // UA缓存
	mu          sync.RWMutex         // 读写锁
	lastUpdate  time.Time            // 最后更新时间
}

// NewUserAgentController 创建新的UA控制器
// mongoClient 可以为nil，此时GetRandomUA始终返回默认UA
func NewUserAgentController(mongoClient *mongodb.MongoClient, config Config) *UserAgentController {
	uac := &UserAgentController{
		mongoClient: mongoClient,
		config:      config,
	}

	if mongoClient != nil {
		// 初始加载UA
		if err := uac.loadUserAgents(); err != nil {
			log.Printf("初始加载UA失败: %v", err)
		}

		// 启动定期更新
		go uac.startUpdateLoop()
	}

	return uac
}

// GetRandomUA 获取随机桌面UA
func (uac *UserAgentController) GetRandomUA() string {
	uac.mu.RLock()
	defer uac.mu.RUnlock()

	if len(uac.uaCache) == 0 {
		return uac.config.DefaultUA
	}

	// 按权重随机选择
	totalWeight := 0
	for _, ua := range uac.uaCache {
		totalWeight += ua.Weight
	}

	if totalWeight == 0 {
		return uac.uaCache[rand.Intn(len(uac.uaCache))].Value
	}

	r := rand.Intn(totalWeight)
	for _, ua := range uac.uaCache {
		r -= ua.Weight
		if r < 0 {
			return ua.Value
		}
	}

	return uac.config.DefaultUA
}

// loadUserAgents 从MongoDB加载UA
func (uac *UserAgentController) loadUserAgents() error {
	collection := uac.mongoClient.Client().Database(uac.config.Database).Collection(uac.config.Collection)

	cursor, err := collection.Find(uac.mongoClient.Context(), bson.M{})
	if err != nil {
		return err
	}
	defer cursor.Close(uac.mongoClient.Context())

	var uas []*UserAgent
	if err := cursor.All(uac.mongoClient.Context(), &uas); err != nil {
		return err
	}

	uac.mu.Lock()
	uac.uaCache = uas
	uac.lastUpdate = time.Now()
	uac.mu.Unlock()

	return nil
}

// startUpdateLoop 启动定期更新循环
func (uac *UserAgentController) startUpdateLoop() {
	ticker := time.NewTicker(uac.config.UpdateInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := uac.loadUserAgents(); err != nil {
			log.Printf("更新UA失败: %v", err)
		}
	}
}
