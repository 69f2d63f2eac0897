package langid

// Characters that exist only in one of the two Chinese writing systems.
// The lists cover high-frequency characters common on drug packaging
// (ingredient, dosage, and instruction vocabulary); they do not need to be
// exhaustive, only discriminative.
const (
	simplifiedOnly = "药剂锭胶囊说明书处专东么买乾亚产亲亿从仓价众优传" +
		"体质检验证标签发变后听启员响国图场块声复头妇实对尔层岁师" +
		"带帮开张当录忆态总恶惊成药数断术机构条来极欢汉济温湿满灭" +
		"热爱环现用电疗签类红级细经给络维编网罗膜虑补装规订证识读" +
		"购贮费质软过还这进远违连递释银错长门闭问间阶预颗风饭饮养"
	traditionalOnly = "藥劑錠膠囊說明書處專東麼買亞產親億從倉價眾優傳" +
		"體質檢驗證標籤發變後聽啟員響國圖場塊聲複頭婦實對爾層歲師" +
		"帶幫開張當錄憶態總惡驚數斷術機構條來極歡漢濟溫濕滿滅" +
		"熱愛環現電療簽類紅級細經給絡維編網羅膜慮補裝規訂識讀" +
		"購貯費軟過還這進遠違連遞釋銀錯長門閉問間階預顆風飯飲養"
)
