package reconcile

// 更新来源标识，写入锁持有者标记与对账日志
const (
	SourcePlatformPush     = "PLATFORM_PUSH"     // 平台 Webhook 推送
	SourceScheduledSync    = "SCHEDULED_SYNC"    // 定时轮询
	SourceConsistencyCheck = "CONSISTENCY_CHECK" // 一致性巡检
	SourceInconsistencyFix = "INCONSISTENCY_FIX" // 巡检发现不一致后的修复
	SourceManualCheck      = "MANUAL_CHECK"      // 运营端手动触发
	SourceUserQuery        = "USER_QUERY"        // 用户查询顺带对账
)
